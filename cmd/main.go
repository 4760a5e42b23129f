package main

import (
	"context"
	"fmt"
	"os"

	"github.com/scenehub/corehub/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start(context.Background())

	fmt.Printf("Server listening on :%s\n", a.Cfg.HTTPPort)
	if err := a.Run(); err != nil {
		a.Log.Warn("server failed", "error", err)
	}
}
