package telemetry

import (
	"context"
	"testing"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	tel, err := Setup(context.Background(), "reviewiq-test", "")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tel.TracerProvider != nil {
		t.Error("expected no tracer provider when endpoint is empty")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestSetup_WithEndpoint(t *testing.T) {
	tel, err := Setup(context.Background(), "reviewiq-test", "http://127.0.0.1:4318/v1/traces")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tel.TracerProvider == nil {
		t.Fatal("expected a tracer provider")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
