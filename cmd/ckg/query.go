package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/codegraph/internal/config"
	"github.com/rohankatakam/codegraph/internal/graph"
	"github.com/rohankatakam/codegraph/internal/models"
)

var (
	queryProject   string
	queryType      string
	queryDirection string
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List committed entities of a project",
	Long: `List committed entities, optionally filtered by type.

Examples:
  ckg entities -p billing
  ckg entities -p billing --type Class -o json
  ckg entities -p billing --type Unknown   # unresolved placeholders`,
	Args: cobra.NoArgs,
	RunE: runEntities,
}

var relationshipsCmd = &cobra.Command{
	Use:   "relationships",
	Short: "List committed relationships of a project",
	Args:  cobra.NoArgs,
	RunE:  runRelationships,
}

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <qualified-name>",
	Short: "List entities adjacent to one entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runNeighbors,
}

func init() {
	for _, c := range []*cobra.Command{entitiesCmd, relationshipsCmd, neighborsCmd} {
		c.Flags().StringVarP(&queryProject, "project", "p", "", "project name (required)")
		c.MarkFlagRequired("project")
	}
	entitiesCmd.Flags().StringVarP(&queryType, "type", "t", "", "entity type filter")
	relationshipsCmd.Flags().StringVarP(&queryType, "type", "t", "", "relationship type filter")
	neighborsCmd.Flags().StringVarP(&queryType, "type", "t", "", "relationship type filter")
	neighborsCmd.Flags().StringVarP(&queryDirection, "direction", "d", string(graph.Both), "edge direction: out, in or both")
}

func runEntities(cmd *cobra.Command, args []string) error {
	var entityType models.EntityType
	if queryType != "" {
		t, err := models.ParseEntityType(queryType)
		if err != nil {
			return err
		}
		entityType = t
	}

	out, err := formatter()
	if err != nil {
		return err
	}
	engine, err := openEngine(cmd, config.ValidationContextAnalyze)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	entities, err := engine.GetEntities(cmd.Context(), queryProject, entityType)
	if err != nil {
		return err
	}
	return out.Entities(cmd.OutOrStdout(), entities)
}

func runRelationships(cmd *cobra.Command, args []string) error {
	relType, err := parseRelType()
	if err != nil {
		return err
	}

	out, err := formatter()
	if err != nil {
		return err
	}
	engine, err := openEngine(cmd, config.ValidationContextAnalyze)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	rels, err := engine.GetRelationships(cmd.Context(), queryProject, relType)
	if err != nil {
		return err
	}
	return out.Relationships(cmd.OutOrStdout(), rels)
}

func runNeighbors(cmd *cobra.Command, args []string) error {
	relType, err := parseRelType()
	if err != nil {
		return err
	}

	out, err := formatter()
	if err != nil {
		return err
	}
	engine, err := openEngine(cmd, config.ValidationContextAnalyze)
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	entities, err := engine.GetNeighbors(cmd.Context(), queryProject, args[0], relType, graph.Direction(queryDirection))
	if err != nil {
		return err
	}
	return out.Entities(cmd.OutOrStdout(), entities)
}

func parseRelType() (models.RelationshipType, error) {
	if queryType == "" {
		return "", nil
	}
	return models.ParseRelationshipType(queryType)
}
