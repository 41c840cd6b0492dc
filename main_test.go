package main

import (
	"context"
	"testing"

	"mediaconvert/config"
	"mediaconvert/scheduler"
)

func TestNewLockerWithoutRedisIsLocal(t *testing.T) {
	locker, closeLocker := newLocker(context.Background(), &config.Config{})
	defer closeLocker()

	local, ok := locker.(*scheduler.LocalLocker)
	if !ok {
		t.Fatalf("expected *scheduler.LocalLocker, got %T", locker)
	}
	release, ok, err := local.TryLock(context.Background(), "cleanup", 0)
	if err != nil || !ok {
		t.Fatalf("TryLock failed: ok=%v err=%v", ok, err)
	}
	defer release()
	if _, ok, _ := local.TryLock(context.Background(), "cleanup", 0); ok {
		t.Error("second TryLock on a held task should fail")
	}
}
