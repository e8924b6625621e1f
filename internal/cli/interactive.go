package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/AurumGo/internal/display"
	"github.com/dyike/AurumGo/internal/merger"
	"github.com/dyike/AurumGo/internal/storage"
)

const (
	actionAnalyze = "Run an analysis"
	actionMerge   = "Merge two analyses"
	actionShow    = "Show latest result"
	actionExit    = "Exit"
)

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FFD700")).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#B8860B")).
	Padding(0, 2)

// runInteractiveMode loops over a survey menu until the user exits.
func runInteractiveMode(ctx context.Context, st *rootState) error {
	fmt.Println(bannerStyle.Render(fmt.Sprintf("AurumGo v%s  gold market analysis", Version)))

	return st.withApp(ctx, func(a *app) error {
		tools := a.runner.Tools()
		for {
			var action string
			err := survey.AskOne(&survey.Select{
				Message: "What would you like to do?",
				Options: []string{actionAnalyze, actionMerge, actionShow, actionExit},
			}, &action)
			if errors.Is(err, terminal.InterruptErr) {
				return nil
			}
			if err != nil {
				return err
			}

			switch action {
			case actionAnalyze:
				tool, err := pickTool("Pipeline", tools, "")
				if err != nil {
					return ignoreInterrupt(err)
				}
				if err := runAnalyze(ctx, a, tool); err != nil {
					display.DisplayError(err, "analysis failed")
				}
			case actionMerge:
				toolA, err := pickTool("Preferred source", tools, "")
				if err != nil {
					return ignoreInterrupt(err)
				}
				toolB, err := pickTool("Second source", tools, toolA)
				if err != nil {
					return ignoreInterrupt(err)
				}
				if err := runMerge(ctx, a, toolA, toolB); err != nil {
					display.DisplayError(err, "merge failed")
				}
			case actionShow:
				tool, err := pickTool("Result", append(append([]string{}, tools...), merger.Tool), "")
				if err != nil {
					return ignoreInterrupt(err)
				}
				rec, err := a.store.Latest(tool)
				if errors.Is(err, storage.ErrNotFound) {
					display.DisplayWarning("no saved analysis for " + tool + " yet")
					continue
				}
				if err != nil {
					display.DisplayError(err, "load failed")
					continue
				}
				fmt.Println(display.RenderRecord(rec))
			case actionExit:
				return nil
			}
		}
	})
}

func pickTool(message string, tools []string, exclude string) (string, error) {
	options := make([]string, 0, len(tools))
	for _, t := range tools {
		if t != exclude {
			options = append(options, t)
		}
	}
	var tool string
	err := survey.AskOne(&survey.Select{Message: message, Options: options}, &tool)
	return tool, err
}

func ignoreInterrupt(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return nil
	}
	return err
}
