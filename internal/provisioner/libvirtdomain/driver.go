// Package libvirtdomain implements a libvirt-backed Provisioner. It shapes
// domain XML from LibvirtConfig and drives lifecycle state over a libvirt
// client interface, kept narrow so a real cgo-backed client or a remote
// libvirtd proxy can satisfy it without pulling libvirt's C bindings into
// this module's dependency graph.
package libvirtdomain

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/runtime-trust-plane/internal/config"
	"github.com/R3E-Network/runtime-trust-plane/internal/provisioner"
)

// DomainState mirrors libvirt's virDomainState enumeration for the states
// this driver observes.
type DomainState string

const (
	DomainStateRunning DomainState = "running"
	DomainStateShutoff DomainState = "shutoff"
	DomainStatePaused  DomainState = "paused"
)

// Client is the narrow libvirt wire contract this driver depends on. A
// production build satisfies it with libvirt-go or a gRPC proxy to
// libvirtd; tests satisfy it with a fake.
type Client interface {
	DefineDomain(ctx context.Context, domainXML string) (domainUUID string, err error)
	StartDomain(ctx context.Context, domainUUID string) error
	ShutdownDomain(ctx context.Context, domainUUID string) error
	DestroyDomain(ctx context.Context, domainUUID string) error
	UndefineDomain(ctx context.Context, domainUUID string) error
	DomainLogs(ctx context.Context, domainUUID string, tail int) (string, error)
	DomainState(ctx context.Context, domainUUID string) (DomainState, error)
}

// Driver adapts a libvirt Client to the Provisioner interface, rendering
// domain XML from LibvirtConfig defaults overridden per-decision.
type Driver struct {
	client Client
	cfg    config.LibvirtConfig
}

// New builds a libvirt domain driver.
func New(client Client, cfg config.LibvirtConfig) *Driver {
	return &Driver{client: client, cfg: cfg}
}

var _ provisioner.Provisioner = (*Driver)(nil)

// Provision renders a libvirt domain definition and defines it; the VM is
// left shut off until Start is called, matching libvirt's define/create
// separation.
func (d *Driver) Provision(ctx context.Context, serverID string, decision provisioner.Decision, cfg provisioner.Config) (provisioner.ProvisionResult, error) {
	xml := d.renderDomainXML(serverID, decision, cfg)
	uuid, err := d.client.DefineDomain(ctx, xml)
	if err != nil {
		return provisioner.ProvisionResult{}, fmt.Errorf("libvirt: define domain: %w", err)
	}
	return provisioner.ProvisionResult{
		InstanceID:         uuid,
		IsolationTier:      decision.Tier,
		RequestedImage:     decision.Image,
		HypervisorSnapshot: []byte(xml),
	}, nil
}

// Start issues virDomainCreate via the client.
func (d *Driver) Start(ctx context.Context, instanceID string) error {
	if err := d.client.StartDomain(ctx, instanceID); err != nil {
		return fmt.Errorf("libvirt: start domain %s: %w", instanceID, err)
	}
	return nil
}

// Stop attempts a graceful shutdown; callers that need a hard stop should
// follow up with Teardown.
func (d *Driver) Stop(ctx context.Context, instanceID string) error {
	if err := d.client.ShutdownDomain(ctx, instanceID); err != nil {
		return fmt.Errorf("libvirt: shutdown domain %s: %w", instanceID, err)
	}
	return nil
}

// Teardown destroys (force-stops) and undefines the domain so no libvirt
// object outlives the control plane's record of the instance.
func (d *Driver) Teardown(ctx context.Context, instanceID string) error {
	if err := d.client.DestroyDomain(ctx, instanceID); err != nil {
		state, stateErr := d.client.DomainState(ctx, instanceID)
		if stateErr != nil || state != DomainStateShutoff {
			return fmt.Errorf("libvirt: destroy domain %s: %w", instanceID, err)
		}
	}
	if err := d.client.UndefineDomain(ctx, instanceID); err != nil {
		return fmt.Errorf("libvirt: undefine domain %s: %w", instanceID, err)
	}
	return nil
}

// FetchLogs reads the domain's console log via the client.
func (d *Driver) FetchLogs(ctx context.Context, instanceID string, tail int) (string, error) {
	logs, err := d.client.DomainLogs(ctx, instanceID, tail)
	if err != nil {
		return "", fmt.Errorf("libvirt: fetch logs for domain %s: %w", instanceID, err)
	}
	return logs, nil
}

// StreamLogs is unsupported by the libvirt console log interface this
// driver uses; callers fall back to polling FetchLogs.
func (d *Driver) StreamLogs(ctx context.Context, instanceID string) (<-chan string, error) {
	return nil, nil
}

func (d *Driver) renderDomainXML(serverID string, decision provisioner.Decision, cfg provisioner.Config) string {
	memoryMiB := d.cfg.DefaultMemoryMiB
	if memoryMiB <= 0 {
		memoryMiB = 2048
	}
	vcpus := d.cfg.DefaultVCPUCount
	if vcpus <= 0 {
		vcpus = 2
	}
	networkTemplate := firstNonEmpty(cfg.NetworkTemplate, d.cfg.NetworkTemplate, "default")
	volumeTemplate := firstNonEmpty(cfg.VolumeTemplate, d.cfg.VolumeTemplate)
	gpuPolicy := firstNonEmpty(cfg.GPUPolicy, d.cfg.GPUPolicy)

	name := domainName(serverID)
	var hostdev string
	if gpuPolicy == "passthrough" {
		hostdev = `<hostdev mode="subsystem" type="pci" managed="yes"/>`
	}

	return fmt.Sprintf(`<domain type="kvm">
  <name>%s</name>
  <memory unit="MiB">%d</memory>
  <vcpu>%d</vcpu>
  <os><type arch="x86_64">hvm</type></os>
  <devices>
    <disk type="file" device="disk">
      <source file="%s"/>
      <target dev="vda" bus="virtio"/>
    </disk>
    <interface type="network">
      <source network="%s"/>
    </interface>
    %s
  </devices>
  <metadata>
    <image>%s</image>
    <tier>%s</tier>
  </metadata>
</domain>`, name, memoryMiB, vcpus, volumeTemplate, networkTemplate, hostdev, decision.Image, decision.Tier)
}

func domainName(serverID string) string {
	return "vm-" + strings.ReplaceAll(serverID, "/", "-")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
