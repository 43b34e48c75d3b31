package main

import "github.com/charmbracelet/lipgloss"

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

const dupwatchArt = `
     _                            _       _
  __| |_   _ _ ____      ____ _| |_ ___| |__
 / _' | | | | '_ \ \ /\ / / _' | __/ __| '_ \
| (_| | |_| | |_) \ V  V / (_| | || (__| | | |
 \__,_|\__,_| .__/ \_/\_/ \__,_|\__\___|_| |_|
            |_|`
