package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"todo-go/internal/app"
	"todo-go/internal/config"
	"todo-go/internal/encryption"
	"todo-go/internal/httpapi"
	"todo-go/internal/model"
	"todo-go/internal/todo"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// syncTimeout bounds how long one-shot commands wait for the remote snapshot.
const syncTimeout = 10 * time.Second

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a TodoApp. The caller must defer app.Close().
// command identifies the CLI command being run (e.g. "add", "serve").
func newApp(ctx context.Context, command string) (*app.TodoApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	var passphrase string
	if cfg.Cache.Encryption.Type == "age" {
		passphrase, err = readPassphrase("Cache passphrase: ")
		if err != nil {
			return nil, err
		}
	}

	a, err := app.NewTodoApp(ctx, cfg, command, passphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// newSyncedApp is newApp for commands that show data: it waits for the first
// remote snapshot and warns when the app is offline.
func newSyncedApp(ctx context.Context, command string) (*app.TodoApp, error) {
	a, err := newApp(ctx, command)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	if st := a.WaitSynced(waitCtx); st.Phase == todo.PhaseOffline {
		fmt.Fprintf(os.Stderr, "warning: offline (%s), showing cached data\n", st.Message)
	}
	return a, nil
}

// readPassphrase takes the passphrase from TODO_PASSPHRASE, or prompts for it
// when stdin is a terminal.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("TODO_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("cache is encrypted: set TODO_PASSPHRASE or run from a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// fail prints a user-facing description of err and returns it for cobra.
func fail(err error) error {
	fmt.Fprintf(os.Stderr, "error: %s\n", app.DescribeError(err))
	return err
}

var rootCmd = &cobra.Command{
	Use:           "todo",
	Short:         "To-do list with optimistic sync",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Store:    %s (%s)\n", cfg.Store.Type, cfg.Store.Path)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Cache:         %s\n", cfg.Cache.Type)
		enc := cfg.Cache.Encryption.Type
		if enc == "" {
			enc = "off"
		}
		fmt.Printf("Encryption:    %s\n", enc)
		fmt.Printf("Store:         %s\n", cfg.Store.Type)
		remote := cfg.RemoteConfig.Type
		if remote == "" {
			remote = "defaults"
		}
		fmt.Printf("Remote config: %s\n", remote)
		fmt.Printf("HTTP listen:   %s\n", cfg.HTTP.Listen)
		return nil
	},
}

// cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the on-device cache",
}

var cacheKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the cache encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		encCfg := cfg.Cache.Encryption
		encCfg.Type = "age"
		enc, err := encryption.NewEncryptorFromConfig(encCfg)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("key pair already exists at %s (use --force to replace it)", encCfg.PublicKeyPath)
			}
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		fmt.Printf("Public key:  %s\n", encCfg.PublicKeyPath)
		fmt.Printf("Private key: %s\n", encCfg.PrivateKeyPath)
		if cfg.Cache.Encryption.Type != "age" {
			fmt.Println(`Set cache.encryption.type = "age" in the config to enable encryption.`)
		}
		return nil
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		a, err := newApp(cmd.Context(), "add")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.AddTask(cmd.Context(), args[0], category)
		if err != nil {
			return fail(err)
		}
		fmt.Printf("Added task %s\n", id)
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")

		a, err := newSyncedApp(cmd.Context(), "list")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(a.Flags().WelcomeMessage())
		a.Store().SelectCategory(filter)
		tasks := a.Store().FilteredTasks().Value()
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}
		for _, t := range tasks {
			printTask(t)
		}
		return nil
	},
}

func printTask(t model.TaskWithCategory) {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	category := ""
	if t.Category != nil {
		category = "  #" + t.Category.Name
	}
	fmt.Printf("[%s] %s  %s%s\n", mark, t.ID, t.Title, category)
}

var toggleCmd = &cobra.Command{
	Use:   "toggle ID",
	Short: "Toggle a task's completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "toggle")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ToggleTask(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteTask(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return nil
	},
}

var assignCmd = &cobra.Command{
	Use:   "assign ID [CATEGORY_ID]",
	Short: "Assign a task to a category, or clear it",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "assign")
		if err != nil {
			return err
		}
		defer a.Close()

		category := ""
		if len(args) == 2 {
			category = args[1]
		}
		if err := a.SetTaskCategory(cmd.Context(), args[0], category); err != nil {
			return fail(err)
		}
		return nil
	},
}

var completeAllCmd = &cobra.Command{
	Use:   "complete-all",
	Short: "Mark every task completed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")
		force, _ := cmd.Flags().GetBool("force")

		a, err := newSyncedApp(cmd.Context(), "complete-all")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CompleteAllTasks(cmd.Context(), !undo, force); err != nil {
			return fail(err)
		}
		return nil
	},
}

var clearCompletedCmd = &cobra.Command{
	Use:   "clear-completed",
	Short: "Delete every completed task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, err := newSyncedApp(cmd.Context(), "clear-completed")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ClearCompletedTasks(cmd.Context(), force); err != nil {
			return fail(err)
		}
		return nil
	},
}

// category command
var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Manage categories",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")

		a, err := newApp(cmd.Context(), "category add")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.CreateCategory(cmd.Context(), args[0], color)
		if err != nil {
			return fail(err)
		}
		fmt.Printf("Added category %s\n", id)
		return nil
	},
}

var categoryRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a category",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newSyncedApp(cmd.Context(), "category rename")
		if err != nil {
			return err
		}
		defer a.Close()

		color, _ := cmd.Flags().GetString("color")
		if !cmd.Flags().Changed("color") {
			for _, c := range a.Categories() {
				if c.ID == args[0] {
					color = c.Color
				}
			}
		}
		if err := a.UpdateCategory(cmd.Context(), args[0], args[1], color); err != nil {
			return fail(err)
		}
		return nil
	},
}

var categoryRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a category and unassign its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "category rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteCategory(cmd.Context(), args[0]); err != nil {
			return fail(err)
		}
		return nil
	},
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newSyncedApp(cmd.Context(), "category list")
		if err != nil {
			return err
		}
		defer a.Close()

		cats := a.Categories()
		if len(cats) == 0 {
			fmt.Println("No categories.")
			return nil
		}
		for _, c := range cats {
			fmt.Printf("%s  %-20s  %s\n", c.ID, c.Name, c.Color)
		}
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show task counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newSyncedApp(cmd.Context(), "stats")
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.Store().Stats().Value()
		fmt.Printf("Total: %d  Completed: %d  Pending: %d\n", st.Total, st.Completed, st.Pending)
		for _, s := range a.Store().CategorySummary().Value() {
			fmt.Printf("  %-20s %d/%d\n", s.Category.Name, s.Completed, s.Total)
		}
		u := a.Store().UncategorizedSummary().Value()
		fmt.Printf("  %-20s %d/%d\n", "(none)", u.Completed, u.Total)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newSyncedApp(cmd.Context(), "status")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(statusLabel(a.Status().State().Value()))
		return nil
	},
}

func statusLabel(s todo.SyncSnapshot) string {
	switch s.Phase {
	case todo.PhaseOnline:
		return "Online"
	case todo.PhaseSyncing:
		return "Syncing..."
	case todo.PhaseConnecting:
		return "Connecting..."
	case todo.PhaseOffline:
		if s.Message != "" {
			return "Offline: " + s.Message
		}
		return "Offline"
	default:
		return string(s.Phase)
	}
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print sync status and task list changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "watch")
		if err != nil {
			return err
		}
		defer a.Close()

		statuses := a.Status().State().Subscribe(ctx)
		tasks := a.Store().TasksWithCategory().Subscribe(ctx)
		for {
			select {
			case s, ok := <-statuses:
				if !ok {
					return nil
				}
				fmt.Printf("%s  status: %s\n", time.Now().Format("15:04:05"), statusLabel(s))
			case list, ok := <-tasks:
				if !ok {
					return nil
				}
				fmt.Printf("%s  %d task(s)\n", time.Now().Format("15:04:05"), len(list))
				for _, t := range list {
					printTask(t)
				}
			}
		}
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.HTTP.Listen
		}

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer a.Close()

		e := httpapi.New(a)
		errc := make(chan error, 1)
		go func() {
			errc <- e.Start(listen)
		}()
		fmt.Printf("Listening on %s\n", listen)

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// cache subcommands
	cacheCmd.AddCommand(cacheKeygenCmd)
	cacheKeygenCmd.Flags().Bool("force", false, "Replace an existing key pair")

	// category subcommands
	categoryCmd.AddCommand(categoryAddCmd)
	categoryAddCmd.Flags().String("color", "", "Category color")
	categoryCmd.AddCommand(categoryRenameCmd)
	categoryRenameCmd.Flags().String("color", "", "New category color")
	categoryCmd.AddCommand(categoryRmCmd)
	categoryCmd.AddCommand(categoryListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringP("category", "c", "", "Category id")
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("filter", "f", model.FilterAll, `"all", "none" or a category id`)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(completeAllCmd)
	completeAllCmd.Flags().Bool("undo", false, "Mark every task pending instead")
	completeAllCmd.Flags().Bool("force", false, "Run even when bulk actions are disabled")
	rootCmd.AddCommand(clearCompletedCmd)
	clearCompletedCmd.Flags().Bool("force", false, "Run even when bulk actions are disabled")
	rootCmd.AddCommand(categoryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Listen address (defaults to http.listen)")
}
