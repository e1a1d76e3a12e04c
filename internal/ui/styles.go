package ui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	quitTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)
