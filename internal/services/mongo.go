package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/exporter/internal/models"
	"github.com/desertthunder/exporter/internal/shared"
)

const defaultMongoExport = "mongoexport"

var mongoParams = []string{"mongo_host", "mongo_db", "mongo_user", "mongo_password", "mongo_collection"}

// MongoBackend exports a document-store collection filtered by the task's query.
type MongoBackend struct {
	executable string
}

// NewMongoBackend creates a MongoBackend. An empty executable uses mongoexport from PATH.
func NewMongoBackend(executable string) *MongoBackend {
	if executable == "" {
		executable = defaultMongoExport
	}
	return &MongoBackend{executable: executable}
}

func (b *MongoBackend) Validate(task models.Descriptor, params map[string]string) error {
	if _, err := shared.Bind(task.Template, params); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	if err := requireParams(params, mongoParams...); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	return nil
}

// Command builds the mongoexport invocation for inv.
func (b *MongoBackend) Command(inv Invocation) (Command, error) {
	query, err := shared.Bind(shared.CleanCommand(inv.Task.Template), inv.Params)
	if err != nil {
		return Command{}, err
	}
	if err := requireParams(inv.Params, mongoParams...); err != nil {
		return Command{}, err
	}

	p := inv.Params
	args := []string{
		"--host", p["mongo_host"],
		"--db", p["mongo_db"],
		"--username", p["mongo_user"],
		"--password", p["mongo_password"],
		"--collection", p["mongo_collection"],
		"--query", query,
	}
	if pref := p["mongo_read_preference"]; pref != "" {
		args = append(args, "--readPreference", pref)
	} else {
		args = append(args, "--slaveOk")
	}
	args = append(args, "--out", inv.Filename)

	return Command{
		Name:     b.executable,
		Args:     args,
		MaxTries: inv.Context.MaxTries,
		Logger:   inv.Logger,
	}, nil
}

func (b *MongoBackend) Run(ctx context.Context, inv Invocation) error {
	logger := loggerFor(inv)

	cmd, err := b.Command(inv)
	if err != nil {
		return err
	}

	if inv.Context.DryRun {
		logger.Info("dry run: skipping document export", "task", inv.Task.Name, "collection", inv.Params["mongo_collection"])
		return nil
	}
	return Execute(ctx, cmd)
}
