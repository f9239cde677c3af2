package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dmitrijs2005/addonsign/internal/signer"
	"github.com/dmitrijs2005/addonsign/internal/signer/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := signer.NewApp(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	result, err := app.Run(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Printf("signed %s\n", result.ID)
	for _, f := range result.DownloadedFiles {
		fmt.Printf("downloaded %s\n", f)
	}
}
