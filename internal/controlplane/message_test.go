package controlplane

import "testing"

func TestDecodeDeploy(t *testing.T) {
	raw := []byte(`{"kind":"Deploy","deploymentId":"d1","functionId":"f1","domains":["a.example.com"],"isProduction":true}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != KindDeploy {
		t.Fatalf("expected KindDeploy, got %v", msg.Kind)
	}
	if msg.DeploymentID != "d1" || msg.FunctionID != "f1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !msg.IsProduction {
		t.Fatal("expected isProduction true")
	}
}

// TestDecodeLiteralS1Payload decodes spec.md's literal S1 scenario payload
// verbatim; every field must round-trip or Deploy silently binds an empty
// deployment.
func TestDecodeLiteralS1Payload(t *testing.T) {
	raw := []byte(`{"kind":"Deploy","deploymentId":"d1","functionId":"f1","functionName":"hello","assets":[],"domains":["hello.example.com"],"env":{},"memory":128,"tickTimeout":100,"totalTimeout":1000,"isProduction":true,"cron":null,"cronRegion":"local"}`)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if msg.Kind != KindDeploy {
		t.Fatalf("expected KindDeploy, got %v", msg.Kind)
	}
	if msg.DeploymentID != "d1" {
		t.Fatalf("expected deploymentId d1, got %q", msg.DeploymentID)
	}
	if msg.FunctionID != "f1" {
		t.Fatalf("expected functionId f1, got %q", msg.FunctionID)
	}
	if msg.FunctionName != "hello" {
		t.Fatalf("expected functionName hello, got %q", msg.FunctionName)
	}
	if len(msg.Assets) != 0 {
		t.Fatalf("expected empty assets, got %v", msg.Assets)
	}
	if len(msg.Domains) != 1 || msg.Domains[0] != "hello.example.com" {
		t.Fatalf("expected domains [hello.example.com], got %v", msg.Domains)
	}
	if msg.EnvironmentVariables == nil || len(msg.EnvironmentVariables) != 0 {
		t.Fatalf("expected empty env map, got %v", msg.EnvironmentVariables)
	}
	if msg.Memory != 128 {
		t.Fatalf("expected memory 128, got %d", msg.Memory)
	}
	if msg.TickTimeout != 100 {
		t.Fatalf("expected tickTimeout 100, got %d", msg.TickTimeout)
	}
	if msg.TotalTimeout != 1000 {
		t.Fatalf("expected totalTimeout 1000, got %d", msg.TotalTimeout)
	}
	if !msg.IsProduction {
		t.Fatal("expected isProduction true")
	}
	if msg.Cron != "" {
		t.Fatalf("expected cron empty (null), got %q", msg.Cron)
	}
	if msg.CronRegion != "local" {
		t.Fatalf("expected cronRegion local, got %q", msg.CronRegion)
	}
}

func TestDecodePromoteWithPrevious(t *testing.T) {
	raw := []byte(`{"kind":"Promote","deploymentId":"d2","previousDeploymentId":"d1"}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != KindPromote {
		t.Fatalf("expected KindPromote, got %v", msg.Kind)
	}
	if msg.PreviousDeploymentID != "d1" {
		t.Fatalf("expected previousDeploymentId d1, got %q", msg.PreviousDeploymentID)
	}
}

func TestDecodeUnknownKindDoesNotError(t *testing.T) {
	raw := []byte(`{"kind":"SomeFutureKind","deploymentId":"d1"}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("expected no error for unknown kind, got %v", err)
	}
	if msg.Kind != KindUnknown {
		t.Fatalf("expected KindUnknown, got %v", msg.Kind)
	}
}

func TestDecodeMalformedJSONErrors(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error decoding malformed JSON")
	}
}

func TestDecodeMissingKindIsUnknown(t *testing.T) {
	msg, err := Decode([]byte(`{"deploymentId":"d1"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Kind != KindUnknown {
		t.Fatalf("expected KindUnknown, got %v", msg.Kind)
	}
}
