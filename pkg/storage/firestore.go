package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/raterudder/solarkbridge/pkg/log"
	"github.com/raterudder/solarkbridge/pkg/types"
)

// FirestoreProvider implements Database using Google Cloud Firestore.
// Counters of a plant live under plants/{plantID}: the latest in
// state/energy and one snapshot per UTC day in energy_history.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(plantID, name string) (*firestore.CollectionRef, error) {
	if plantID == "" {
		return nil, fmt.Errorf("plantID cannot be empty")
	}
	return f.client.Collection("plants").Doc(plantID).Collection(name), nil
}

// decodeCounters reads the JSON blob stored in the "json" field of doc.
func decodeCounters(ctx context.Context, doc *firestore.DocumentSnapshot) (types.EnergyCounters, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "energy doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return types.EnergyCounters{}, fmt.Errorf("energy document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "energy doc json not string", slog.String("docID", doc.Ref.ID))
		return types.EnergyCounters{}, fmt.Errorf("energy document %s 'json' field is not a string", doc.Ref.ID)
	}
	var c types.EnergyCounters
	if err := json.Unmarshal([]byte(jsonStr), &c); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal energy counters", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return types.EnergyCounters{}, fmt.Errorf("failed to unmarshal energy counters (id=%s): %w", doc.Ref.ID, err)
	}
	return c, nil
}

// GetEnergyCounters retrieves the latest counters from the "state/energy" document.
func (f *FirestoreProvider) GetEnergyCounters(ctx context.Context, plantID string) (types.EnergyCounters, error) {
	coll, err := f.getCollection(plantID, "state")
	if err != nil {
		return types.EnergyCounters{}, err
	}
	doc, err := coll.Doc("energy").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.EnergyCounters{PlantID: plantID}, nil
		}
		return types.EnergyCounters{}, fmt.Errorf("failed to fetch energy doc: %w", err)
	}
	c, err := decodeCounters(ctx, doc)
	if err != nil {
		return types.EnergyCounters{}, err
	}
	c.PlantID = plantID
	return c, nil
}

// SetEnergyCounters saves counters to "state/energy" and to the day's
// "energy_history" document.
func (f *FirestoreProvider) SetEnergyCounters(ctx context.Context, counters types.EnergyCounters) error {
	jsonBytes, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to marshal energy counters: %w", err)
	}
	state, err := f.getCollection(counters.PlantID, "state")
	if err != nil {
		return err
	}
	history, err := f.getCollection(counters.PlantID, "energy_history")
	if err != nil {
		return err
	}

	data := map[string]interface{}{
		"json":      string(jsonBytes),
		"updatedAt": counters.UpdatedAt,
	}
	if _, err := state.Doc("energy").Set(ctx, data); err != nil {
		return fmt.Errorf("failed to save energy counters: %w", err)
	}
	if _, err := history.Doc(dayID(counters.UpdatedAt)).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to save energy history: %w", err)
	}
	return nil
}

// GetEnergyHistory retrieves daily snapshots within the specified range.
// Document IDs are YYYY-MM-DD so an ID range query is a date range query.
func (f *FirestoreProvider) GetEnergyHistory(ctx context.Context, plantID string, start, end time.Time) ([]types.EnergyCounters, error) {
	coll, err := f.getCollection(plantID, "energy_history")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(dayID(start))).
		Where(firestore.DocumentID, "<", coll.Doc(dayID(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []types.EnergyCounters
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating energy history: %w", err)
		}
		c, err := decodeCounters(ctx, doc)
		if err != nil {
			return nil, err
		}
		c.PlantID = plantID
		out = append(out, c)
	}
	return out, nil
}
