package libvirtdomain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/runtime-trust-plane/internal/config"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner"
)

type fakeClient struct {
	defineXML     string
	defineUUID    string
	defineErr     error
	startErr      error
	shutdownErr   error
	destroyErr    error
	undefineErr   error
	logs          string
	logsErr       error
	state         DomainState
	stateErr      error
	destroyCalled bool
}

func (f *fakeClient) DefineDomain(_ context.Context, domainXML string) (string, error) {
	f.defineXML = domainXML
	return f.defineUUID, f.defineErr
}
func (f *fakeClient) StartDomain(_ context.Context, _ string) error    { return f.startErr }
func (f *fakeClient) ShutdownDomain(_ context.Context, _ string) error { return f.shutdownErr }
func (f *fakeClient) DestroyDomain(_ context.Context, _ string) error {
	f.destroyCalled = true
	return f.destroyErr
}
func (f *fakeClient) UndefineDomain(_ context.Context, _ string) error { return f.undefineErr }
func (f *fakeClient) DomainLogs(_ context.Context, _ string, _ int) (string, error) {
	return f.logs, f.logsErr
}
func (f *fakeClient) DomainState(_ context.Context, _ string) (DomainState, error) {
	return f.state, f.stateErr
}

func TestProvisionRendersDomainXMLAndReturnsUUID(t *testing.T) {
	client := &fakeClient{defineUUID: "domain-uuid-1"}
	d := New(client, config.LibvirtConfig{DefaultMemoryMiB: 4096, DefaultVCPUCount: 4})

	result, err := d.Provision(context.Background(), "server-1", provisioner.Decision{
		Image: "confidential-image", Tier: "confidential",
	}, provisioner.Config{NetworkTemplate: "trust-net", VolumeTemplate: "/vol/server-1.qcow2", GPUPolicy: "passthrough"})

	require.NoError(t, err)
	assert.Equal(t, "domain-uuid-1", result.InstanceID)
	assert.Contains(t, client.defineXML, "<memory unit=\"MiB\">4096</memory>")
	assert.Contains(t, client.defineXML, "<vcpu>4</vcpu>")
	assert.Contains(t, client.defineXML, "trust-net")
	assert.Contains(t, client.defineXML, "hostdev")
}

func TestTeardownDestroysThenUndefines(t *testing.T) {
	client := &fakeClient{}
	d := New(client, config.LibvirtConfig{})

	err := d.Teardown(context.Background(), "domain-uuid-1")
	require.NoError(t, err)
	assert.True(t, client.destroyCalled)
}

func TestTeardownToleratesAlreadyShutoffDomain(t *testing.T) {
	client := &fakeClient{destroyErr: errors.New("domain is not running"), state: DomainStateShutoff}
	d := New(client, config.LibvirtConfig{})

	err := d.Teardown(context.Background(), "domain-uuid-1")
	require.NoError(t, err)
}

func TestStreamLogsUnsupported(t *testing.T) {
	d := New(&fakeClient{}, config.LibvirtConfig{})
	ch, err := d.StreamLogs(context.Background(), "domain-uuid-1")
	require.NoError(t, err)
	assert.Nil(t, ch)
}
