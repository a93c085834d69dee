package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "republisher",
		Usage: "Republish alert files to a Kafka stream without overrunning the producer",
		Flags: globalFlags(),
		Before: func(c *cli.Context) error {
			if path := c.String("env-file"); path != "" {
				if err := godotenv.Load(path); err != nil {
					return fmt.Errorf("failed to load env file %s: %w", path, err)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "publish",
				Usage:     "Publish message files to every topic of a stream URL",
				ArgsUsage: "kafka://[user@]broker[:port][,...]/topic[,...] MESSAGE...",
				Flags:     publishFlags(),
				Action:    runPublish,
			},
			{
				Name:      "schema",
				Usage:     "Infer an Avro schema from a sample JSON document",
				ArgsUsage: "INPUT.json OUTPUT.avsc",
				Flags:     schemaFlags(),
				Action:    runSchema,
			},
			{
				Name:      "convert",
				Usage:     "Convert a JSON document to an Avro object container file",
				ArgsUsage: "INPUT.json OUTPUT.avro SCHEMA.avsc",
				Flags:     logFlags(),
				Action:    runConvert,
			},
		},
	}
}
