// ABOUTME: Project sidebar listing the backend's projects with the build target and serving preview marked.
// ABOUTME: An unreachable registry renders as "unknown" rather than an empty list.
package tui

import (
	"fmt"
	"strings"

	"github.com/2389-research/buildpilot/project"
)

// SidebarModel is the selectable project list.
type SidebarModel struct {
	projects []project.Project
	loaded   bool
	err      error
	cursor   int
	selected string
	running  string
	focused  bool
	width    int
	height   int
}

// NewSidebarModel creates an empty sidebar.
func NewSidebarModel() SidebarModel {
	return SidebarModel{}
}

// SetProjects applies a registry refresh. On error the previous list stays.
func (m *SidebarModel) SetProjects(msg ProjectsMsg) {
	m.running = msg.Running
	m.err = msg.Err
	if msg.Err != nil {
		return
	}
	m.projects = msg.Projects
	m.loaded = true
	if m.cursor >= len(m.projects) {
		m.cursor = max(len(m.projects)-1, 0)
	}
}

// SetSelected marks the current build target and moves the cursor to it.
func (m *SidebarModel) SetSelected(name string) {
	m.selected = name
	for i, p := range m.projects {
		if p.Name == name {
			m.cursor = i
			return
		}
	}
}

// SetRunning marks the project whose preview is serving.
func (m *SidebarModel) SetRunning(name string) {
	m.running = name
}

// Running returns the project whose preview is serving, if known.
func (m SidebarModel) Running() string {
	return m.running
}

// SetFocused sets whether the sidebar takes arrow keys.
func (m *SidebarModel) SetFocused(focused bool) {
	m.focused = focused
}

// SetSize sets the panel dimensions.
func (m *SidebarModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// MoveUp moves the cursor up one project.
func (m *SidebarModel) MoveUp() {
	if m.cursor > 0 {
		m.cursor--
	}
}

// MoveDown moves the cursor down one project.
func (m *SidebarModel) MoveDown() {
	if m.cursor < len(m.projects)-1 {
		m.cursor++
	}
}

// Current returns the project under the cursor.
func (m SidebarModel) Current() (project.Project, bool) {
	if m.cursor < 0 || m.cursor >= len(m.projects) {
		return project.Project{}, false
	}
	return m.projects[m.cursor], true
}

// View renders the sidebar.
func (m SidebarModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("PROJECTS"))
	b.WriteString("\n")

	switch {
	case !m.loaded && m.err != nil:
		b.WriteString(ErrorStyle.Render("unknown (backend unreachable)"))
	case !m.loaded:
		b.WriteString(IdleStyle.Render("loading..."))
	case len(m.projects) == 0:
		b.WriteString(IdleStyle.Render("no projects yet"))
	default:
		for i, p := range m.projects {
			line := p.Name
			if p.Tech != "" {
				line = fmt.Sprintf("%s (%s)", p.Name, p.Tech)
			}
			if p.Name == m.running {
				line += " " + PreviewStyle.Render("●")
			}
			marker := "  "
			if m.focused && i == m.cursor {
				marker = "> "
			}
			if p.Name == m.selected {
				line = SelectedStyle.Render(line)
			}
			b.WriteString(marker + line + "\n")
		}
		if m.err != nil {
			b.WriteString(WarningStyle.Render("(stale: refresh failed)"))
		}
	}

	style := BorderStyle
	if m.focused {
		style = FocusedBorderStyle
	}
	return style.Width(m.width - 2).Height(m.height - 2).Render(strings.TrimRight(b.String(), "\n"))
}
