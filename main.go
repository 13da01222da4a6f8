package main

import (
	"embed"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"voicebox/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	logging.Init()

	app := NewApp()
	err := wails.Run(&options.App{
		Title:  "Voicebox",
		Width:  420,
		Height: 560,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		logging.Errorw("application exited with error", "error", err)
	}
}
