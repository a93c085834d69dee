package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ava-labs/alert-republisher/pkg/avro"
	"github.com/ava-labs/alert-republisher/pkg/utils"
)

func runSchema(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: %s schema INPUT.json OUTPUT.avsc", c.App.Name)
	}
	in, out := c.Args().Get(0), c.Args().Get(1)

	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"), c.String("log-level"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	schema, err := avro.InferSchemaFile(in, out, c.String("record-name"))
	if err != nil {
		return err
	}
	sugar.Infow("avro schema written",
		"input", in,
		"output", out,
		"record", schema.Name,
		"fields", len(schema.Fields))
	return nil
}

func runConvert(c *cli.Context) error {
	if c.NArg() != 3 {
		return fmt.Errorf("usage: %s convert INPUT.json OUTPUT.avro SCHEMA.avsc", c.App.Name)
	}
	in, out, schema := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)

	sugar, err := utils.NewSugaredLogger(c.Bool("verbose"), c.String("log-level"))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	n, err := avro.ConvertJSONFile(in, out, schema)
	if err != nil {
		return err
	}
	sugar.Infow("avro file written",
		"input", in,
		"output", out,
		"schema", schema,
		"records", n)
	return nil
}
