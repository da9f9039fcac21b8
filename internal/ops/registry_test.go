/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package ops

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func register(r *Registry, name string, group CommandGroup, category CommandCategory, cmd *cobra.Command) error {
	return r.RegisterWithTaxonomy(name, group, category, GetDefaultCapabilities(group, category), cmd, name)
}

func TestRegistry_BasicRegistration(t *testing.T) {
	registry := NewRegistry()
	testCmd := &cobra.Command{Use: "test", Short: "Test command"}

	if err := register(registry, "test", GroupSupport, CategoryInformation, testCmd); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	cmd, exists := registry.GetCommand("test")
	if !exists {
		t.Fatal("command should be registered")
	}
	if cmd.Group != GroupSupport || cmd.Category != CategoryInformation {
		t.Errorf("unexpected classification %s/%s", cmd.Group, cmd.Category)
	}
	if cmd.Command != testCmd {
		t.Error("command pointer not preserved")
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewRegistry()
	if err := register(registry, "test", GroupSupport, CategoryInformation, &cobra.Command{}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	err := register(registry, "test", GroupAudit, CategoryInspection, &cobra.Command{})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if cmd, _ := registry.GetCommand("test"); cmd.Group != GroupSupport {
		t.Error("original registration must be kept")
	}
}

func TestRegistry_GroupsAndMutating(t *testing.T) {
	registry := NewRegistry()
	mustRegister := func(name string, group CommandGroup, category CommandCategory) {
		t.Helper()
		if err := register(registry, name, group, category, &cobra.Command{Use: name}); err != nil {
			t.Fatal(err)
		}
	}
	mustRegister("version", GroupSupport, CategoryInformation)
	mustRegister("diff", GroupMutate, CategoryApplication)
	mustRegister("contract", GroupMutate, CategoryApplication)
	mustRegister("policy", GroupAudit, CategoryInspection)

	mutate := registry.GetCommandsByGroup(GroupMutate)
	if len(mutate) != 2 || mutate[0].Name != "contract" || mutate[1].Name != "diff" {
		t.Errorf("mutate group not sorted: %+v", mutate)
	}
	groups := registry.ListGroups()
	if groups[GroupSupport] != 1 || groups[GroupAudit] != 1 || groups[GroupMutate] != 2 {
		t.Errorf("unexpected group counts %v", groups)
	}
	muts := registry.GetMutatingCommands()
	if len(muts) != 2 {
		t.Errorf("expected 2 mutating commands, got %d", len(muts))
	}
}

func TestGetDefaultCapabilities(t *testing.T) {
	tests := []struct {
		group    CommandGroup
		category CommandCategory
		want     CommandCapabilities
	}{
		{GroupMutate, CategoryApplication, CommandCapabilities{MutatesFiles: true, WritesLedger: true, SupportsDryRun: true, UsesGit: true}},
		{GroupAudit, CategoryLedger, CommandCapabilities{WritesLedger: true}},
		{GroupAudit, CategoryInspection, CommandCapabilities{}},
		{GroupSupport, CategoryEnvironment, CommandCapabilities{UsesGit: true}},
	}
	for _, tt := range tests {
		if got := GetDefaultCapabilities(tt.group, tt.category); got != tt.want {
			t.Errorf("GetDefaultCapabilities(%s, %s) = %+v, want %+v", tt.group, tt.category, got, tt.want)
		}
	}
}

func registerCore(t *testing.T, r *Registry) {
	t.Helper()
	core := NewTaxonomyValidator().coreCommands
	for name, c := range core {
		if err := r.RegisterWithTaxonomy(name, c.Group, c.Category, GetDefaultCapabilities(c.Group, c.Category), &cobra.Command{Use: name}, name); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTaxonomyValidator_CoreCommandsValid(t *testing.T) {
	r := NewRegistry()
	registerCore(t, r)
	if errs := NewTaxonomyValidator().Validate(r); len(errs) != 0 {
		t.Errorf("expected no errors, got:\n%s", FormatErrors(errs))
	}
}

func TestTaxonomyValidator_Problems(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterWithTaxonomy("diff", GroupSupport, CategoryInformation, CommandCapabilities{}, &cobra.Command{}, "wrong"); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterWithTaxonomy("rewrite", GroupMutate, CategoryApplication, CommandCapabilities{MutatesFiles: true}, &cobra.Command{}, "no dry run"); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterWithTaxonomy("odd", GroupAudit, CategoryApplication, CommandCapabilities{}, &cobra.Command{}, "bad category"); err != nil {
		t.Fatal(err)
	}

	errs := NewTaxonomyValidator().Validate(r)
	core := FilterErrors(errs, ErrorTypeCoreCommand)
	if len(core) != 7 { // six missing plus diff misclassified
		t.Errorf("expected 7 core errors, got %d:\n%s", len(core), FormatErrors(core))
	}
	if got := FilterErrors(errs, ErrorTypeCapability); len(got) != 1 || got[0].Command != "rewrite" {
		t.Errorf("expected rewrite capability error, got %+v", got)
	}
	if got := FilterErrors(errs, ErrorTypeTaxonomyConsistency); len(got) != 1 || got[0].Command != "odd" {
		t.Errorf("expected odd consistency error, got %+v", got)
	}
}

func TestFormatErrorsEmpty(t *testing.T) {
	if got := FormatErrors(nil); got != "No validation errors found" {
		t.Errorf("FormatErrors(nil) = %q", got)
	}
}
