// Package inventory parses Ansible-style INI inventories into hosts and
// group membership.
package inventory

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

type Inventory struct {
	// group -> member hosts
	groups map[string][]string
	// group -> child groups, from [name:children] sections
	children map[string][]string
}

// Parse reads an INI inventory file. Hostnames may carry inline variables
// (key=value after the name); only the hostname itself is kept.
func Parse(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory: %w", err)
	}
	defer f.Close()

	inv := &Inventory{
		groups:   make(map[string][]string),
		children: make(map[string][]string),
	}

	currentGroup := "ungrouped"
	childrenSection := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section := strings.Trim(line, "[]")
			if name, ok := strings.CutSuffix(section, ":children"); ok {
				currentGroup = name
				childrenSection = true
			} else if strings.Contains(section, ":") {
				// :vars and other section kinds carry no hosts
				currentGroup = ""
				childrenSection = false
			} else {
				currentGroup = section
				childrenSection = false
			}
			continue
		}

		if currentGroup == "" {
			continue
		}

		// Strip inline variables: "host ansible_port=2222" -> "host"
		name := strings.Fields(line)[0]

		if childrenSection {
			inv.children[currentGroup] = append(inv.children[currentGroup], name)
		} else {
			inv.groups[currentGroup] = append(inv.groups[currentGroup], name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	return inv, nil
}

// Hosts returns every host in the inventory, deduplicated and sorted.
func (inv *Inventory) Hosts() []string {
	seen := make(map[string]struct{})
	for _, hosts := range inv.groups {
		for _, h := range hosts {
			seen[h] = struct{}{}
		}
	}

	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// Groups returns every group name, sorted. Groups defined only through
// :children sections are included.
func (inv *Inventory) Groups() []string {
	seen := make(map[string]struct{})
	for g := range inv.groups {
		seen[g] = struct{}{}
	}
	for g := range inv.children {
		seen[g] = struct{}{}
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// GroupsForHost returns every group a host belongs to, directly or through
// a parent group's :children section.
func (inv *Inventory) GroupsForHost(host string) []string {
	direct := make(map[string]struct{})
	for group, hosts := range inv.groups {
		for _, h := range hosts {
			if h == host {
				direct[group] = struct{}{}
			}
		}
	}

	// Walk parent relationships until the membership set stops growing.
	for {
		grew := false
		for parent, kids := range inv.children {
			if _, ok := direct[parent]; ok {
				continue
			}
			for _, kid := range kids {
				if _, ok := direct[kid]; ok {
					direct[parent] = struct{}{}
					grew = true
					break
				}
			}
		}
		if !grew {
			break
		}
	}

	groups := make([]string, 0, len(direct))
	for g := range direct {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}
