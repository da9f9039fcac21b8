/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package ops

import (
	"fmt"
	"sort"
	"strings"
)

// TaxonomyValidator validates command taxonomy consistency and correctness
type TaxonomyValidator struct {
	coreCommands      map[string]CommandClassification
	allowedCategories map[CommandGroup][]CommandCategory
}

// CommandClassification represents the expected classification for a command
type CommandClassification struct {
	Group    CommandGroup
	Category CommandCategory
}

// ErrorType represents different types of validation errors
type ErrorType int

const (
	ErrorTypeCoreCommand ErrorType = iota
	ErrorTypeTaxonomyConsistency
	ErrorTypeCapability
)

// ValidationError represents a taxonomy validation error
type ValidationError struct {
	Type    ErrorType
	Command string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Message)
}

// NewTaxonomyValidator creates a validator with the built-in core commands
func NewTaxonomyValidator() *TaxonomyValidator {
	return &TaxonomyValidator{
		coreCommands: map[string]CommandClassification{
			"diff":       {Group: GroupMutate, Category: CategoryApplication},
			"contract":   {Group: GroupMutate, Category: CategoryApplication},
			"ledger":     {Group: GroupAudit, Category: CategoryLedger},
			"policy":     {Group: GroupAudit, Category: CategoryInspection},
			"keepblocks": {Group: GroupAudit, Category: CategoryInspection},
			"doctor":     {Group: GroupSupport, Category: CategoryEnvironment},
			"version":    {Group: GroupSupport, Category: CategoryInformation},
		},
		allowedCategories: map[CommandGroup][]CommandCategory{
			GroupMutate:  {CategoryApplication},
			GroupAudit:   {CategoryInspection, CategoryLedger},
			GroupSupport: {CategoryEnvironment, CategoryInformation},
		},
	}
}

// Validate returns every taxonomy problem in registry, sorted by command
func (v *TaxonomyValidator) Validate(registry *Registry) []ValidationError {
	var errs []ValidationError

	for name, expected := range v.coreCommands {
		cmd, ok := registry.GetCommand(name)
		if !ok {
			errs = append(errs, ValidationError{Type: ErrorTypeCoreCommand, Command: name, Message: "core command is not registered"})
			continue
		}
		if cmd.Group != expected.Group || cmd.Category != expected.Category {
			errs = append(errs, ValidationError{
				Type:    ErrorTypeCoreCommand,
				Command: name,
				Message: fmt.Sprintf("classified %s/%s, expected %s/%s", cmd.Group, cmd.Category, expected.Group, expected.Category),
			})
		}
	}

	for name, cmd := range registry.GetAllCommands() {
		allowed, ok := v.allowedCategories[cmd.Group]
		if !ok {
			errs = append(errs, ValidationError{Type: ErrorTypeTaxonomyConsistency, Command: name, Message: fmt.Sprintf("uses invalid group %s", cmd.Group)})
			continue
		}
		if !containsCategory(allowed, cmd.Category) {
			errs = append(errs, ValidationError{Type: ErrorTypeTaxonomyConsistency, Command: name, Message: fmt.Sprintf("category %s not allowed for group %s", cmd.Category, cmd.Group)})
		}
		// Anything that writes the working tree must be rehearsable.
		if cmd.Capabilities.MutatesFiles && !cmd.Capabilities.SupportsDryRun {
			errs = append(errs, ValidationError{Type: ErrorTypeCapability, Command: name, Message: "mutating command without dry-run support"})
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Command < errs[j].Command })
	return errs
}

func containsCategory(list []CommandCategory, c CommandCategory) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}

// FilterErrors returns errors of a specific type
func FilterErrors(errs []ValidationError, errorType ErrorType) []ValidationError {
	var filtered []ValidationError
	for _, err := range errs {
		if err.Type == errorType {
			filtered = append(filtered, err)
		}
	}
	return filtered
}

// FormatErrors formats validation errors for display
func FormatErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return "No validation errors found"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d validation errors:\n", len(errs))
	for i, err := range errs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, err.Error())
	}
	return b.String()
}
