// SchoolHub development backend - notification REST API and push hub.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/schoolhub/schoolhub/internal/api"
	"github.com/schoolhub/schoolhub/internal/config"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/scheduler"
	"github.com/schoolhub/schoolhub/internal/storage"
)

var (
	cfgFile string
	cfg     *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schoolhubd",
		Short: "SchoolHub development backend",
		Long: `schoolhubd serves the notification REST API and the websocket push
channel the SchoolHub client talks to. It also mints development tokens and
pushes test notifications and alerts into a running server.`,
		PersistentPreRunE: loadConfig,
		RunE:              runServe,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.schoolhub/config.yaml)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(alertCmd())

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

func jwtSecret() (string, error) {
	if cfg.Server.JWTSecret == "" {
		return "", errors.New("server.jwt_secret is not set (SCHOOLHUB_SERVER_JWT_SECRET)")
	}
	return cfg.Server.JWTSecret, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	secret, err := jwtSecret()
	if err != nil {
		return err
	}
	logger := logging.Default().WithField("component", "schoolhubd")

	dbPath := cfg.Server.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "schoolhubd.db")
	}
	db, err := storage.Open(storage.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	server, err := api.New(api.Config{
		Port:      cfg.Server.Port,
		DB:        db,
		JWTSecret: secret,
		Logger:    logging.Default(),
	})
	if err != nil {
		return err
	}

	// Expired notifications are swept on the store cleanup interval.
	sched := scheduler.New(scheduler.Config{Logger: logging.Default()})
	sweep := scheduler.IntervalTask("notifications.cleanup", "Delete expired notifications", cfg.Store.CleanupInterval,
		func(ctx context.Context) error {
			n, err := server.Service().Cleanup(ctx)
			if err == nil && n > 0 {
				logger.Info("Deleted %d expired notifications", n)
			}
			return err
		})
	if err := sched.Register(sweep); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			logger.Error("Shutdown: %v", err)
		}
	}()

	return server.Start()
}

func tokenCmd() *cobra.Command {
	var (
		userID   string
		branchID string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mintToken(userID, branchID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user ID (token subject)")
	cmd.Flags().StringVar(&branchID, "branch", "", "branch ID")
	cmd.Flags().StringVar(&role, "role", "", "role, e.g. parent, teacher, admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("user")
	return cmd
}

func mintToken(userID, branchID, role string, ttl time.Duration) (string, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", err
	}
	auth, err := api.NewAuthenticator(secret)
	if err != nil {
		return "", err
	}
	return auth.Mint(userID, branchID, role, ttl)
}

func pushCmd() *cobra.Command {
	var (
		body    api.CreateNotificationBody
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Create a notification and push it to the recipient",
		RunE: func(cmd *cobra.Command, args []string) error {
			body.ExpiresInSeconds = int(expires / time.Second)
			var created notifications.Notification
			if err := adminPost(cmd.Context(), "/api/v1/notifications", body, &created); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created notification %s for %s\n", created.ID, created.UserID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&body.UserID, "user", "", "recipient user ID")
	f.StringVar(&body.BranchID, "branch", "", "also push to subscribers of this branch")
	f.StringVar(&body.Role, "role", "", "also push to subscribers of this role")
	f.StringVar(&body.Type, "type", "general", "notification type")
	f.StringVar(&body.Title, "title", "", "title")
	f.StringVar(&body.Message, "message", "", "message body")
	f.StringVar(&body.Priority, "priority", "medium", "low, medium, high or urgent")
	f.StringVar(&body.Category, "category", "", "category")
	f.StringVar(&body.ActionURL, "action-url", "", "link opened when the notification is clicked")
	f.StringVar(&body.ActionText, "action-text", "", "label for the link")
	f.StringVar(&body.SenderName, "sender", "", "sender name")
	f.DurationVar(&expires, "expires", 0, "expire after this long (0 keeps it)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("title")
	return cmd
}

func alertCmd() *cobra.Command {
	var (
		body        api.CreateAlertBody
		autoDismiss time.Duration
	)
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Broadcast a system alert to every connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			body.AutoDismissMS = autoDismiss.Milliseconds()
			var out struct {
				Delivered int `json:"delivered"`
			}
			if err := adminPost(cmd.Context(), "/api/v1/alerts", body, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Alert delivered to %d connections\n", out.Delivered)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&body.Type, "type", "info", "info, warning, error or success")
	f.StringVar(&body.Title, "title", "", "title")
	f.StringVar(&body.Message, "message", "", "message body")
	f.DurationVar(&autoDismiss, "auto-dismiss", 0, "dismiss after this long (0 keeps it)")
	cmd.MarkFlagRequired("title")
	return cmd
}

// adminPost calls an admin endpoint of the configured server with a
// short-lived admin token.
func adminPost(ctx context.Context, path string, in, out interface{}) error {
	token, err := mintToken("schoolhubd-cli", "", api.RoleAdmin, 5*time.Minute)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	url := strings.TrimRight(cfg.API.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: cfg.API.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("POST %s: %s: %s", path, resp.Status, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
