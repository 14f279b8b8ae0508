package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/ffusco/chatline/internal/app"
	"github.com/ffusco/chatline/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and keep the unread badge live until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		application := fx.New(
			app.Module(app.Params{Config: cfg}),
		)
		application.Run()
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	path := configFlag
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
