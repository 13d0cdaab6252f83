package podprovider

import (
	"context"
	"testing"
)

func TestFakeProvider_CreateStartStopGet(t *testing.T) {
	f := NewFakeProvider()
	ctx := context.Background()

	info, err := f.Create(ctx, PodSpec{})
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != "running" {
		t.Errorf("Create status = %q, want running", info.Status)
	}

	if err := f.Stop(ctx, info.ID); err != nil {
		t.Fatal(err)
	}
	got, err := f.Get(ctx, info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "stopped" {
		t.Errorf("after Stop, status = %q, want stopped", got.Status)
	}

	if err := f.Start(ctx, info.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = f.Get(ctx, info.ID)
	if got.Status != "running" {
		t.Errorf("after Start, status = %q, want running", got.Status)
	}
}

func TestFakeProvider_GetUnknownPod(t *testing.T) {
	f := NewFakeProvider()
	if _, err := f.Get(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown pod")
	}
}
