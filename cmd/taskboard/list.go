package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"taskboard/internal/api"
	"taskboard/internal/auth"
	"taskboard/internal/config"
	"taskboard/internal/logging"
	"taskboard/internal/model"
	"taskboard/internal/repository"
	"taskboard/internal/service"
)

// Terminal colors for the category color tokens.
var colorCodes = map[string]string{
	"red":    "9",
	"orange": "208",
	"yellow": "11",
	"green":  "10",
	"teal":   "37",
	"blue":   "12",
	"indigo": "63",
	"purple": "135",
	"pink":   "212",
	"gray":   "245",
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	doneStyle    = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("245"))
	overdueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	sharedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))
	priorityMark = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the task board",
		Long: `Sign in with TASKBOARD_EMAIL and TASKBOARD_PASSWORD, load the board once
and print it with the given filter and sort order.`,
		Args: cobra.NoArgs,
		RunE: runList,
	}
	cmd.Flags().String("filter", model.FilterAll, "all, shared or a category id")
	cmd.Flags().String("sort", string(model.SortDefault), "default, priority-high, priority-low, date-newest or date-oldest")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	filter, _ := cmd.Flags().GetString("filter")
	order, _ := cmd.Flags().GetString("sort")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateRemote(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	email := strings.TrimSpace(os.Getenv("TASKBOARD_EMAIL"))
	password := os.Getenv("TASKBOARD_PASSWORD")
	if email == "" || password == "" {
		return errors.New("TASKBOARD_EMAIL and TASKBOARD_PASSWORD are required")
	}

	logger, closer, err := logging.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	authClient := auth.NewClient(cfg.AuthEndpoint, cfg.AuthClientID, nil)
	as, err := authClient.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in: %s", auth.UserMessage(err))
	}
	backend := api.NewClient(cfg.APIEndpoint, as.TokenSource())

	s := service.NewSession(service.SessionDeps{
		UserID:  as.UserID,
		Email:   as.Email,
		Tasks:   backend,
		Shares:  backend,
		Cache:   repository.NewCategoryCacheRepository(db),
		Attrs:   auth.BindAttributes(authClient, as),
		Workers: cfg.ShareWorkers,
		Logger:  logger,
	})
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("load tasks: %s", service.Reason(err))
	}
	// The remote category fetch decides which filters exist.
	s.Close()

	if _, err := s.SetFilter(filter); err != nil {
		return err
	}
	if _, err := s.SetSort(order); err != nil {
		return err
	}

	printBoard(cmd.OutOrStdout(), s, time.Now())
	return nil
}

func printBoard(w io.Writer, s *service.Session, now time.Time) {
	counts := s.Tasks.Counts()
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Tasks · %s · sort: %s", s.Filter(), s.Sort())))
	fmt.Fprintln(w, subtleStyle.Render(fmt.Sprintf("%d open · %d shared", counts[model.FilterAll], counts[model.FilterShared])))
	fmt.Fprintln(w)

	view := s.View()
	if len(view) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("Nothing here yet."))
		return
	}
	for _, t := range view {
		fmt.Fprintln(w, formatTask(t, s.Categories, now))
	}
}

func formatTask(t model.Task, cats *service.CategoryStore, now time.Time) string {
	var sb strings.Builder

	box := "[ ]"
	title := t.Title
	if t.Completed {
		box = "[x]"
		title = doneStyle.Render(title)
	}
	sb.WriteString(box + " ")
	if t.Priority > 0 {
		sb.WriteString(priorityMark.Render(strings.Repeat("!", t.Priority)) + " ")
	}
	sb.WriteString(title)

	category := t.CategoryOrDefault()
	if !cats.Known(category) {
		category = model.CategoryOther
	}
	c := cats.Resolve(category)
	badge := lipgloss.NewStyle().Foreground(lipgloss.Color(colorCodes[c.Color]))
	sb.WriteString("  " + badge.Render("#"+c.Name))
	sb.WriteString(subtleStyle.Render("  " + t.ID))

	if due, ok := t.DeadlineTime(now.Location()); ok {
		stamp := due.Format("2006-01-02 15:04")
		if !t.Completed && now.After(due) {
			sb.WriteString("  " + overdueStyle.Render("due "+stamp+" (overdue)"))
		} else {
			sb.WriteString(subtleStyle.Render("  due " + stamp))
		}
	}

	switch {
	case t.IsShared:
		sb.WriteString("  " + sharedStyle.Render(fmt.Sprintf("from %s (%s)", t.OwnerEmail, t.Permission)))
	case len(t.SharedWith) > 0:
		sb.WriteString("  " + sharedStyle.Render("shared with "+strings.Join(t.SharedWith, ", ")))
	}
	if t.Description != "" {
		sb.WriteString("\n    " + subtleStyle.Render(t.Description))
	}
	return sb.String()
}
