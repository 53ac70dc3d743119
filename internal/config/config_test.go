package config

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("PLANAR_TEST_STRING", "")
	if got := String("PLANAR_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("String(empty) = %q, want fallback", got)
	}

	t.Setenv("PLANAR_TEST_STRING", "set")
	if got := String("PLANAR_TEST_STRING", "fallback"); got != "set" {
		t.Errorf("String(set) = %q, want set", got)
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int
		wantErr bool
	}{
		{name: "unset uses default", value: "", want: 8080},
		{name: "valid", value: "9000", want: 9000},
		{name: "invalid", value: "ninety", want: 8080, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvPort, tc.value)
			got, err := Int(EnvPort, DefaultPort)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Int error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("Int = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	t.Setenv(EnvInterval, "250ms")
	got, err := Duration(EnvInterval, time.Second)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if got != 250*time.Millisecond {
		t.Errorf("Duration = %v, want 250ms", got)
	}

	t.Setenv(EnvInterval, "soon")
	if _, err := Duration(EnvInterval, time.Second); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestReferenceAndSource(t *testing.T) {
	t.Setenv(EnvReference, "")
	t.Setenv(EnvSource, "")
	if got := ReferencePath("flag.png"); got != "flag.png" {
		t.Errorf("ReferencePath = %q, want flag.png", got)
	}
	if got := Source(DefaultSource); got != "0" {
		t.Errorf("Source = %q, want 0", got)
	}

	t.Setenv(EnvReference, "env.png")
	t.Setenv(EnvSource, "clip.mp4")
	if got := ReferencePath("flag.png"); got != "env.png" {
		t.Errorf("ReferencePath = %q, want env.png", got)
	}
	if got := Source(DefaultSource); got != "clip.mp4" {
		t.Errorf("Source = %q, want clip.mp4", got)
	}
}

func TestListenAddr(t *testing.T) {
	if got := ListenAddr(8080); got != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", got)
	}
}
