// shnotify - SchoolHub notifications in the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/schoolhub/schoolhub/internal/config"
	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/credential"
	"github.com/schoolhub/schoolhub/internal/effects"
	"github.com/schoolhub/schoolhub/internal/fallback"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/session"
	"github.com/schoolhub/schoolhub/internal/storage"
	"github.com/schoolhub/schoolhub/internal/ui"
)

var (
	cfgFile string
	cfg     *config.Config

	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shnotify",
		Short: "SchoolHub notifications in the terminal",
		Long: `shnotify keeps a live connection to SchoolHub and shows your
notifications as they arrive. When the push channel is down it falls back to
polling the REST API.`,
		PersistentPreRunE: loadConfig,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.schoolhub/config.yaml)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(readCmd())
	rootCmd.AddCommand(readAllCmd())
	rootCmd.AddCommand(soundCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tuiCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	// .env is optional
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}
	logging.Configure(logging.Options{
		Level:       logging.ParseLevel(cfg.Log.Level),
		Output:      os.Stderr,
		Development: cfg.Log.Development,
	})
	return nil
}

// resolveToken prefers api.token (SCHOOLHUB_API_TOKEN) over the keyring.
func resolveToken() (string, error) {
	if cfg.API.Token != "" {
		return cfg.API.Token, nil
	}
	creds, err := credential.Open(cfg.DataDir)
	if err != nil {
		return "", err
	}
	token, err := creds.Token()
	if errors.Is(err, core.ErrNoCredentials) {
		return "", errors.New("not logged in: run 'shnotify login' or set SCHOOLHUB_API_TOKEN")
	}
	return token, err
}

// openPreferences opens the local database holding client preferences.
func openPreferences() (*effects.StoredPreferences, func(), error) {
	db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	return effects.NewStoredPreferences(storage.NewPreferenceStore(db)), func() { db.Close() }, nil
}

func restClient(token string) *fallback.RESTClient {
	return fallback.NewRESTClient(fallback.ClientConfig{
		BaseURL:       cfg.API.BaseURL,
		Token:         func() string { return token },
		RetryAttempts: int(cfg.Fallback.RetryAttempts),
		Logger:        logging.Default(),
	})
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, cfg.API.Timeout*time.Duration(cfg.Fallback.RetryAttempts+1))
}

func loginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a bearer token in the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				fmt.Print("Bearer token: ")
				var raw []byte
				var err error
				if term.IsTerminal(int(os.Stdin.Fd())) {
					raw, err = term.ReadPassword(int(os.Stdin.Fd()))
					fmt.Println()
				} else {
					var line string
					line, err = bufio.NewReader(os.Stdin).ReadString('\n')
					raw = []byte(line)
				}
				if err != nil && len(raw) == 0 {
					return fmt.Errorf("failed to read token: %w", err)
				}
				token = strings.TrimSpace(string(raw))
			}

			claims, err := session.ParseClaims(token)
			if err != nil {
				return err
			}

			creds, err := credential.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			if err := creds.SetToken(token); err != nil {
				return err
			}

			fmt.Printf("Logged in as %s", claims.UserID)
			if claims.Role != "" {
				fmt.Printf(" (%s)", claims.Role)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token to save (prompted when omitted)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := credential.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			if err := creds.DeleteToken(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var unreadOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := resolveToken()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			records, err := restClient(token).ListNotifications(ctx, unreadOnly)
			if err != nil {
				return err
			}
			list := notifications.Normalizer{}.FromRecords(records)

			printer := ui.NewPrinter(cmd.OutOrStdout())
			for _, n := range list {
				printer.PrintNotification(n)
			}
			printer.PrintStats(notifications.ComputeStats(list, time.Now()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only unread notifications")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>...",
		Short: "Mark notifications as read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := resolveToken()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			client := restClient(token)
			for _, id := range args {
				if err := client.MarkRead(ctx, id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			fmt.Printf("Marked %d as read\n", len(args))
			return nil
		},
	}
}

func readAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := resolveToken()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := restClient(token).MarkAllRead(ctx); err != nil {
				return err
			}
			fmt.Println("All notifications marked as read")
			return nil
		},
	}
}

func soundCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sound [on|off]",
		Short:     "Show or change the notification sound setting",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, closeDB, err := openPreferences()
			if err != nil {
				return err
			}
			defer closeDB()
			ctx := context.Background()

			if len(args) == 1 {
				var enabled bool
				switch args[0] {
				case "on":
					enabled = true
				case "off":
				default:
					return fmt.Errorf("expected on or off, got %q", args[0])
				}
				if err := prefs.SetSoundEnabled(ctx, enabled); err != nil {
					return err
				}
			}

			enabled, err := prefs.SoundEnabled(ctx)
			if err != nil {
				return err
			}
			state := "off"
			if enabled {
				state = "on"
			}
			fmt.Printf("Sound is %s\n", state)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shnotify v%s\n", version)
		},
	}
}
