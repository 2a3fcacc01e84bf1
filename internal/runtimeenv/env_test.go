package runtimeenv

import "testing"

func TestEnvDefaultsToDevelopment(t *testing.T) {
	t.Setenv("CONTROLPLANE_ENV", "")
	t.Setenv("ENVIRONMENT", "")
	if Env() != Development {
		t.Fatalf("expected Development, got %s", Env())
	}
}

func TestEnvPrefersControlplaneEnv(t *testing.T) {
	t.Setenv("CONTROLPLANE_ENV", "production")
	t.Setenv("ENVIRONMENT", "development")
	if !IsProduction() {
		t.Fatalf("expected production")
	}
}

func TestResolveIntPrecedence(t *testing.T) {
	t.Setenv("DISPATCHER_WORKERS", "9")
	if got := ResolveInt(0, "DISPATCHER_WORKERS", 4); got != 9 {
		t.Fatalf("expected env override 9, got %d", got)
	}
	if got := ResolveInt(3, "DISPATCHER_WORKERS", 4); got != 3 {
		t.Fatalf("expected cfg value 3 to win, got %d", got)
	}
}

func TestResolveBoolRequiresExplicitEnv(t *testing.T) {
	t.Setenv("FEATURE_FLAG", "")
	if !ResolveBool(true, "FEATURE_FLAG") {
		t.Fatalf("expected cfg value to pass through when env unset")
	}
	t.Setenv("FEATURE_FLAG", "false")
	if ResolveBool(true, "FEATURE_FLAG") {
		t.Fatalf("expected env override to win")
	}
}
