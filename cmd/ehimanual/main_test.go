// Package main provides tests for the ehimanual CLI.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leapstack-labs/ehimanual/internal/cli"
	"github.com/leapstack-labs/ehimanual/internal/cli/config"
)

func TestVersionCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Errorf("version command error = %v", err)
	}
	if !strings.Contains(buf.String(), "ehimanual v") {
		t.Errorf("version output should contain 'ehimanual v', got: %s", buf.String())
	}
}

func TestHelpCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Errorf("help command error = %v", err)
	}

	output := buf.String()
	for _, sub := range []string{"build", "check", "extract", "dev", "serve", "query", "history"} {
		if !strings.Contains(output, sub) {
			t.Errorf("help output should list %q", sub)
		}
	}
}

func TestCompletionCommand(t *testing.T) {
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"completion", "bash"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("completion command error = %v", err)
	}
	if !strings.Contains(buf.String(), "ehimanual") {
		t.Errorf("completion script should mention ehimanual")
	}
}

func TestExtractWithFlags(t *testing.T) {
	dir := t.TempDir()
	chapters := filepath.Join(dir, "chapters")
	if err := os.MkdirAll(chapters, 0750); err != nil {
		t.Fatal(err)
	}
	chapter := "# Chapter 1.1: Demo\n\n<example-query description=\"One\">\nSELECT 1\n</example-query>\n"
	if err := os.WriteFile(filepath.Join(chapters, "01-01-demo.md"), []byte(chapter), 0600); err != nil {
		t.Fatal(err)
	}
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"extract", "--chapters-dir", chapters, "--output", "json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("extract command error = %v", err)
	}
	if !strings.Contains(buf.String(), `"id": "01-01-demo-0"`) {
		t.Errorf("extract output should contain the widget id, got: %s", buf.String())
	}
}

func TestInvalidConfig(t *testing.T) {
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cmd := cli.NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"extract", "--engine", "oracle"})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected an error for an unknown engine")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("unexpected error: %v", err)
	}
}
