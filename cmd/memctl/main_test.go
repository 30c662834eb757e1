package main

import (
	"bytes"
	"testing"
)

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestSubcommandsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	for _, name := range []string{"classes", "find", "gadgets"} {
		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a %q subcommand", name)
		}
	}
}

func TestClassesRejectsMissingImage(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"classes", "/nonexistent/kernel"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error opening a nonexistent kernel image")
	}
	if errOut.Len() == 0 {
		t.Fatalf("expected a diagnostic written to stderr")
	}
}

func TestGadgetsRejectsMissingImage(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"gadgets", "/nonexistent/kernel"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error opening a nonexistent kernel image")
	}
}

func TestInvalidSlideIsRejected(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--slide", "not-a-number", "classes", "/nonexistent/kernel"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error for a malformed --slide value")
	}
}

func TestFindRequiresExactlyTwoArgs(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"find", "/nonexistent/kernel"})

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an arg-count error when the class name is omitted")
	}
}
