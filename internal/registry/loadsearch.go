package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/construdata/permit-etl/internal/fsutil"
	"github.com/construdata/permit-etl/internal/model"
)

const defaultSearchIndex = "permits"

// loadSearch renders validated records as an OpenSearch-compatible bulk
// NDJSON artifact: an action line naming the index and document ID, followed
// by the record source, per document. Shipping the artifact to a cluster is
// a separate concern.
//
// Args: input_file, output_file, index (optional, defaults to "permits").
func (svc *Services) loadSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	input, err := stringArg(args, "input_file")
	if err != nil {
		return nil, err
	}
	output, err := stringArg(args, "output_file")
	if err != nil {
		return nil, err
	}
	index := optionalString(args, "index", defaultSearchIndex)

	var records []model.ValidatedRecord
	if err := fsutil.ReadJSON(input, &records); err != nil {
		return nil, eris.Wrapf(err, "registry: load records %s", input)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, eris.Wrapf(err, "registry: mkdir for %s", output)
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: create %s", output)
	}
	defer f.Close() //nolint:errcheck

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "registry: load_search canceled")
		}
		action := map[string]any{
			"index": map[string]any{"_index": index, "_id": records[i].RecordID},
		}
		if err := enc.Encode(action); err != nil {
			return nil, eris.Wrap(err, "registry: write bulk action")
		}
		if err := enc.Encode(records[i]); err != nil {
			return nil, eris.Wrap(err, "registry: write bulk document")
		}
	}
	if err := w.Flush(); err != nil {
		return nil, eris.Wrapf(err, "registry: flush %s", output)
	}

	zap.L().Info("bulk artifact written",
		zap.String("component", "load_search"),
		zap.String("index", index),
		zap.Int("documents", len(records)),
		zap.String("output", output),
	)
	return map[string]any{
		"documents":   len(records),
		"index":       index,
		"output_file": output,
	}, nil
}
