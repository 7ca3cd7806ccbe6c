package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/CTAG07/Cadenza/pkg/markov"
	"github.com/CTAG07/Cadenza/pkg/melody"
)

// ModelInfo holds the metadata of a stored model: its unique ID and name,
// the kind of states it counts, the order of its table, and the composer
// label it was trained under.
type ModelInfo struct {
	Id       int
	Name     string
	Kind     melody.Kind
	Order    int
	Composer string
}

// ExportedModel is the serializable representation of a stored model, used
// for JSON-based import and export.
type ExportedModel struct {
	Name     string           `json:"name"`
	Kind     melody.Kind      `json:"kind"`
	Composer string           `json:"composer"`
	Document *markov.Document `json:"document"`
}

// GetModelInfos retrieves metadata for all models currently in the database,
// returning them in a map keyed by model name.
func (s *Store) GetModelInfos(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := s.stmtGetModels.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Kind, &model.Order, &model.Composer); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModelInfo retrieves the metadata for a single model specified by name.
// It returns sql.ErrNoRows when no such model exists.
func (s *Store) GetModelInfo(ctx context.Context, modelName string) (ModelInfo, error) {
	model := ModelInfo{Name: modelName}
	err := s.stmtGetModelInfo.QueryRowContext(ctx, modelName).Scan(&model.Id, &model.Kind, &model.Order, &model.Composer)
	if err != nil {
		return ModelInfo{}, err
	}
	return model, nil
}

// InsertModel creates a new, empty model entry in the database and returns
// it with its assigned ID.
func (s *Store) InsertModel(ctx context.Context, model ModelInfo) (ModelInfo, error) {
	if err := validateModel(model); err != nil {
		return ModelInfo{}, err
	}
	res, err := s.stmtAddModel.ExecContext(ctx, model.Name, string(model.Kind), model.Order, model.Composer)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to insert model '%s': %w", model.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ModelInfo{}, err
	}
	model.Id = int(id)

	s.logger.InfoContext(ctx, "Model created",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.String("model_kind", string(model.Kind)),
		slog.Int("model_order", model.Order),
	)
	return model, nil
}

func validateModel(model ModelInfo) error {
	if model.Name == "" {
		return fmt.Errorf("%w: model name must not be empty", markov.ErrInvalidConfiguration)
	}
	if _, err := melody.ParseKind(string(model.Kind)); err != nil {
		return fmt.Errorf("%w: %v", markov.ErrInvalidConfiguration, err)
	}
	if model.Order < markov.MinOrder || model.Order > markov.MaxOrder {
		return fmt.Errorf("%w: order %d outside [%d, %d]", markov.ErrInvalidConfiguration, model.Order, markov.MinOrder, markov.MaxOrder)
	}
	return nil
}

// RemoveModel deletes a model and all of its transitions from the database.
// Interned states and contexts are left in place; see PruneOrphans. The
// operation is performed within a transaction.
func (s *Store) RemoveModel(ctx context.Context, model ModelInfo) error {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, "DELETE FROM cadenza_transitions WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove transitions for model %d: %w", model.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM cadenza_models WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	s.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}

// ExportModel serializes a given model into a JSON format and writes it to the
// provided io.Writer. This is useful for backups or for transferring models.
func (s *Store) ExportModel(ctx context.Context, model ModelInfo, w io.Writer) error {
	doc, err := s.LoadDocument(ctx, model)
	if err != nil {
		return err
	}

	exported := ExportedModel{
		Name:     model.Name,
		Kind:     model.Kind,
		Composer: model.Composer,
		Document: doc,
	}

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("contexts_exported", len(doc.Contexts)),
		slog.Int("observations_exported", doc.TotalObservations),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// ImportModel reads a JSON representation of a model from an io.Reader and
// merges its data into the database. If the model name already exists, the
// imported counts are added to the existing ones; the kinds and orders must
// then agree. If the model does not exist, it is created. The entire
// operation is transactional.
func (s *Store) ImportModel(ctx context.Context, r io.Reader) (ModelInfo, error) {
	var imported ExportedModel
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&imported); err != nil {
		return ModelInfo{}, fmt.Errorf("%w: failed to decode json model: %v", markov.ErrDeserialization, err)
	}
	if err := markov.ExpectEOF(dec); err != nil {
		return ModelInfo{}, err
	}
	if imported.Document == nil {
		return ModelInfo{}, fmt.Errorf("%w: missing field %q", markov.ErrDeserialization, "document")
	}
	if string(imported.Kind) != imported.Document.Shape {
		return ModelInfo{}, fmt.Errorf("%w: model kind %q does not match document shape %q", markov.ErrDeserialization, imported.Kind, imported.Document.Shape)
	}

	model := ModelInfo{
		Name:     imported.Name,
		Kind:     imported.Kind,
		Order:    imported.Document.Order,
		Composer: imported.Composer,
	}
	if err := validateModel(model); err != nil {
		return ModelInfo{}, err
	}
	canonical, err := canonicalDocument(imported.Document)
	if err != nil {
		return ModelInfo{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var existing ModelInfo
	err = tx.StmtContext(ctx, s.stmtGetModelInfo).QueryRowContext(ctx, model.Name).Scan(&existing.Id, &existing.Kind, &existing.Order, &existing.Composer)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.StmtContext(ctx, s.stmtAddModel).ExecContext(ctx, model.Name, string(model.Kind), model.Order, model.Composer)
		if err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert new model '%s': %w", model.Name, err)
		}
		newID, _ := res.LastInsertId()
		model.Id = int(newID)
	} else if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to query for model '%s': %w", model.Name, err)
	} else {
		if existing.Kind != model.Kind || existing.Order != model.Order {
			return ModelInfo{}, fmt.Errorf("%w: cannot merge %s model of order %d into existing %s model %q of order %d",
				markov.ErrInvalidArgument, model.Kind, model.Order, existing.Kind, model.Name, existing.Order)
		}
		existing.Name = model.Name
		model = existing
	}

	merged, err := s.saveDocumentTx(ctx, tx, model.Id, canonical)
	if err != nil {
		return ModelInfo{}, err
	}

	s.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", model.Name),
		slog.Int("target_model_id", model.Id),
		slog.Int("transitions_merged", merged),
		slog.Int("observations_merged", canonical.TotalObservations),
	)

	return model, tx.Commit()
}
