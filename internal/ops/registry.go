/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package ops

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cobra"
)

// CommandGroup represents the operational classification of commands
type CommandGroup string

const (
	GroupMutate  CommandGroup = "mutate"  // diff, contract: change files
	GroupAudit   CommandGroup = "audit"   // ledger, policy, keepblocks: inspect and record
	GroupSupport CommandGroup = "support" // doctor, version
)

// CommandCategory refines a group
type CommandCategory string

const (
	CategoryApplication CommandCategory = "application"
	CategoryInspection  CommandCategory = "inspection"
	CategoryLedger      CommandCategory = "ledger"
	CategoryEnvironment CommandCategory = "environment"
	CategoryInformation CommandCategory = "information"
)

// CommandCapabilities describe what a command may do to the working tree
type CommandCapabilities struct {
	MutatesFiles   bool
	WritesLedger   bool
	SupportsDryRun bool
	UsesGit        bool
}

// CommandRegistration represents a registered command with its classification
type CommandRegistration struct {
	Name         string
	Group        CommandGroup
	Category     CommandCategory
	Capabilities CommandCapabilities
	Command      *cobra.Command
	Description  string
}

// Registry manages command classifications and registrations
type Registry struct {
	mu         sync.RWMutex
	commands   map[string]*CommandRegistration
	groupIndex map[CommandGroup][]*CommandRegistration
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		commands:   make(map[string]*CommandRegistration),
		groupIndex: make(map[CommandGroup][]*CommandRegistration),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global command registry
func GetRegistry() *Registry {
	return globalRegistry
}

// RegisterCommandWithTaxonomy registers a command in the global registry
func RegisterCommandWithTaxonomy(name string, group CommandGroup, category CommandCategory, caps CommandCapabilities, cmd *cobra.Command, description string) error {
	return globalRegistry.RegisterWithTaxonomy(name, group, category, caps, cmd, description)
}

// RegisterWithTaxonomy adds a fully classified command
func (r *Registry) RegisterWithTaxonomy(name string, group CommandGroup, category CommandCategory, caps CommandCapabilities, cmd *cobra.Command, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command %s already registered", name)
	}

	registration := &CommandRegistration{
		Name:         name,
		Group:        group,
		Category:     category,
		Capabilities: caps,
		Command:      cmd,
		Description:  description,
	}
	r.commands[name] = registration
	r.groupIndex[group] = append(r.groupIndex[group], registration)
	return nil
}

// GetCommand returns a registered command by name
func (r *Registry) GetCommand(name string) (*CommandRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, exists := r.commands[name]
	return cmd, exists
}

// GetCommandsByGroup returns the commands in a group sorted by name
func (r *Registry) GetCommandsByGroup(group CommandGroup) []*CommandRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]*CommandRegistration(nil), r.groupIndex[group]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetMutatingCommands returns every command that may change files
func (r *Registry) GetMutatingCommands() []*CommandRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*CommandRegistration
	for _, c := range r.commands {
		if c.Capabilities.MutatesFiles {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetAllCommands returns all registered commands
func (r *Registry) GetAllCommands() map[string]*CommandRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*CommandRegistration, len(r.commands))
	for k, v := range r.commands {
		result[k] = v
	}
	return result
}

// ListGroups returns all command groups and their command counts
func (r *Registry) ListGroups() map[CommandGroup]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[CommandGroup]int)
	for group, commands := range r.groupIndex {
		result[group] = len(commands)
	}
	return result
}

// GetDefaultCapabilities returns the capabilities implied by a classification
func GetDefaultCapabilities(group CommandGroup, category CommandCategory) CommandCapabilities {
	switch {
	case group == GroupMutate:
		return CommandCapabilities{MutatesFiles: true, WritesLedger: true, SupportsDryRun: true, UsesGit: true}
	case category == CategoryLedger:
		return CommandCapabilities{WritesLedger: true}
	case category == CategoryEnvironment:
		return CommandCapabilities{UsesGit: true}
	default:
		return CommandCapabilities{}
	}
}
