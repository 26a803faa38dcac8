package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/config"
	"github.com/farmseedhq/farmseed/internal/engine"
	"github.com/farmseedhq/farmseed/internal/farm"
	"github.com/farmseedhq/farmseed/internal/identity"
	"github.com/farmseedhq/farmseed/internal/logging"
	"github.com/farmseedhq/farmseed/internal/remote"
	"github.com/farmseedhq/farmseed/internal/storage"
	"github.com/farmseedhq/farmseed/internal/store"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "farmseed-agent",
		Short: "Farmseed device agent: local records and farm sync",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newRunCommand(),
		newSyncCommand(),
		newStatusCommand(),
		newFarmCommand(),
		newAdminCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("storage-path", defaults.GetString("agent.storage_path"), "Local SQLite storage path")
	cmd.PersistentFlags().String("hub-url", defaults.GetString("agent.hub_url"), "Hub base URL")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("agent.sync_interval"), "Interval between scheduled syncs")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "agent.storage_path", "storage-path")
	bindFlag(cmd, "agent.hub_url", "hub-url")
	bindFlag(cmd, "agent.sync_interval", "sync-interval")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// agent bundles the assembled device-side components.
type agent struct {
	logger  *zap.Logger
	storage *storage.Store
	store   *store.Store
	session *farm.Session
	engine  *engine.Engine
	farms   *farm.Service
}

func (a *agent) close() {
	if err := a.storage.Close(); err != nil {
		a.logger.Warn("closing local storage failed", zap.Error(err))
	}
	a.logger.Sync() //nolint:errcheck
}

func buildAgent() (*agent, error) {
	agentConfig, err := config.LoadAgent(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(agentConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	kv, err := storage.Open(agentConfig.StoragePath, logger)
	if err != nil {
		return nil, err
	}

	ids := identity.NewUUIDProvider()

	recordStore, err := store.New(store.Config{
		Storage: kv,
		IDs:     ids,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	session, err := farm.LoadSession(farm.SessionConfig{
		Storage: kv,
		IDs:     ids,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL:  agentConfig.HubURL,
		DeviceID: session.DeviceID(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	syncEngine, err := engine.New(engine.Config{
		Store:    recordStore,
		Data:     client,
		Storage:  kv,
		Logger:   logger,
		Interval: agentConfig.SyncInterval,
	})
	if err != nil {
		return nil, err
	}
	if farmID := session.FarmID(); farmID != "" {
		syncEngine.Bind(farmID)
	}

	farms, err := farm.NewService(farm.ServiceConfig{
		Session:    session,
		Membership: client,
		Engine:     syncEngine,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &agent{
		logger:  logger,
		storage: kv,
		store:   recordStore,
		session: session,
		engine:  syncEngine,
		farms:   farms,
	}, nil
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the periodic sync loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.engine.Run(signalCtx)
			return nil
		},
	}
}

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()

			if a.session.FarmID() == "" {
				return fmt.Errorf("not connected to a farm")
			}
			if err := a.engine.SyncNow(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sync completed")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()

			status := a.engine.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "device:    %s\n", a.session.DeviceID())
			fmt.Fprintf(out, "farm:      %s (%s)\n", a.session.FarmID(), a.session.FarmName())
			fmt.Fprintf(out, "state:     %s\n", status.State)
			if !status.LastSyncAt.IsZero() {
				fmt.Fprintf(out, "last sync: %s\n", status.LastSyncAt.Format("2006-01-02 15:04:05 MST"))
			}
			if status.LastError != "" {
				fmt.Fprintf(out, "last error: %s\n", status.LastError)
			}

			entries, fields, inventory, usage := a.store.Snapshot()
			fmt.Fprintf(out, "records:   %d entries, %d fields, %d inventory, %d usage\n",
				len(entries), len(fields), len(inventory), len(usage))
			fmt.Fprintf(out, "pending deletes: %d\n", len(a.store.PendingDeletes()))
			return nil
		},
	}
}

func newFarmCommand() *cobra.Command {
	farmCmd := &cobra.Command{
		Use:   "farm",
		Short: "Farm membership operations",
	}

	var password string
	var userName string

	createCmd := &cobra.Command{
		Use:   "create <farm-id> <farm-name>",
		Short: "Create a farm and become its admin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.farms.CreateFarm(cmd.Context(), args[0], args[1], userName, password)
		},
	}
	createCmd.Flags().StringVar(&password, "password", "", "Optional farm password")
	createCmd.Flags().StringVar(&userName, "user-name", "", "Operator display name")

	joinCmd := &cobra.Command{
		Use:   "join <farm-id>",
		Short: "Join an existing farm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.farms.JoinFarm(cmd.Context(), args[0], userName, password)
		},
	}
	joinCmd.Flags().StringVar(&password, "password", "", "Farm password, if set")
	joinCmd.Flags().StringVar(&userName, "user-name", "", "Operator display name")

	leaveCmd := &cobra.Command{
		Use:   "leave",
		Short: "Leave the connected farm (local records are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.farms.LeaveFarm(cmd.Context())
		},
	}

	membersCmd := &cobra.Command{
		Use:   "members",
		Short: "List the connected farm's members",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()

			members, err := a.farms.Members(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, member := range members {
				role := "member"
				if member.IsAdmin {
					role = "admin"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\tjoined %s\n",
					member.MemberID, member.UserName, role,
					member.JoinedAt.Format("2006-01-02"))
			}
			return nil
		},
	}

	removeMemberCmd := &cobra.Command{
		Use:   "remove-member <member-id>",
		Short: "Remove a member from the farm (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.farms.RemoveMember(cmd.Context(), args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <farm-id>",
		Short: "Delete a farm and all its hub data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.farms.DeleteFarm(cmd.Context(), args[0])
		},
	}

	setNameCmd := &cobra.Command{
		Use:   "set-name <user-name>",
		Short: "Set the operator display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.farms.SaveUserName(cmd.Context(), args[0])
		},
	}

	farmCmd.AddCommand(createCmd, joinCmd, leaveCmd, membersCmd, removeMemberCmd, deleteCmd, setNameCmd)
	return farmCmd
}

func newAdminCommand() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative recovery operations",
	}

	purgeCmd := &cobra.Command{
		Use:   "purge-resync",
		Short: "Discard local data and repopulate from the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.engine.PurgeAndResync(cmd.Context())
		},
	}

	forceDeleteCmd := &cobra.Command{
		Use:   "force-delete-inventory",
		Short: "Delete all inventory and usage rows for the farm, everywhere",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAgent()
			if err != nil {
				return err
			}
			defer a.close()
			return a.engine.ForceDeleteAllInventory(cmd.Context())
		},
	}

	adminCmd.AddCommand(purgeCmd, forceDeleteCmd)
	return adminCmd
}
