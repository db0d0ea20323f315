/*
Copyright 2025 Parakeet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/parakeet-hq/parakeet"
	"github.com/parakeet-hq/parakeet/config"
	"github.com/parakeet-hq/parakeet/database"
	"github.com/parakeet-hq/parakeet/internal/notification"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Parakeet represents the CLI application, encapsulating the root Cobra command.
type Parakeet struct {
	cmd *cobra.Command // Root command for the CLI application
}

// parakeetInstance holds the runtime core, the orchestrator built on top of it,
// and the loaded configuration. It is shared by every subcommand.
type parakeetInstance struct {
	parakeet     *parakeet.Parakeet
	orchestrator *parakeet.Orchestrator
	cnf          *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec) // Log the recovered panic
		os.Exit(1)        // Exit the program with an error status
	}
}

// preRun sets up the configuration and initializes the core before running any command.
func preRun(app *parakeetInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// Initialize configuration from the specified configuration file.
		err := config.InitConfig("parakeet.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		// Fetch the configuration settings.
		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		// Initialize the core using the fetched configuration.
		core, orchestrator, err := setupParakeet(cnf)
		if err != nil {
			notification.NotifyError(err) // Notify via the internal notification system
			log.Fatal(err)                // Log the fatal error
		}

		app.parakeet = core
		app.orchestrator = orchestrator
		app.cnf = cnf

		return nil
	}
}

// setupParakeet creates the orchestration core and its campaign orchestrator
// from the provided configuration. The orchestrator runs in queued mode here;
// dispatch work always flows through asynq so the workers process executes it.
func setupParakeet(cfg *config.Configuration) (*parakeet.Parakeet, *parakeet.Orchestrator, error) {
	// Initialize a new data source from the configuration.
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting datasource: %v", err)
	}

	core, err := parakeet.NewParakeet(db)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating parakeet: %v", err)
	}

	// The log driver stands in for a real channel integration. Production
	// deployments swap in their own ActionDriver here.
	driver := &parakeet.LogDriver{Latency: 250 * time.Millisecond}
	orchestrator := parakeet.NewOrchestrator(core, driver, parakeet.TemplateRenderer{})

	return core, orchestrator, nil
}

// NewCLI creates the command-line interface (CLI) for the Parakeet application.
// It sets up the root command and subcommands like serverCommands, workerCommands, and migrateCommands.
func NewCLI() *Parakeet {
	var configFile string    // Configuration file path (defaults to ./parakeet.json)
	b := &parakeetInstance{} // Shared instance passed into commands

	// Define the root command with usage and description.
	var rootCmd = &cobra.Command{
		Use:   "parakeet",
		Short: "Outreach resource orchestration",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	// Add a persistent flag to the root command for specifying the config file.
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./parakeet.json", "Configuration file for parakeet")

	// Set the persistent pre-run hook to initialize the app and config before executing any command.
	rootCmd.PersistentPreRunE = preRun(b)

	// Add various subcommands to the root command.
	rootCmd.AddCommand(serverCommands(b))  // Command for starting the API server
	rootCmd.AddCommand(workerCommands(b))  // Command for worker processes
	rootCmd.AddCommand(migrateCommands(b)) // Command for database/schema migrations

	return &Parakeet{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Parakeet) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err) // Print any errors that occur
		os.Exit(1)                   // Exit the program with an error status
	}
}

// main is the entry point for the application. It recovers from any panic,
// initializes the CLI, and executes it.
func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
