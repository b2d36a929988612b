package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/construdata/permit-etl/internal/fsutil"
	"github.com/construdata/permit-etl/internal/model"
	"github.com/construdata/permit-etl/pkg/geocode"
	"github.com/construdata/permit-etl/pkg/summarize"
)

// geocodeRecords resolves each record's normalized location to coordinates.
// Results, including negative ones, go through an on-disk cache so re-runs
// only query addresses not seen before. Individual lookup failures are
// logged and skipped; only cancellation aborts the batch.
//
// Args: input_file, output_file, cache_file (optional).
func (svc *Services) geocodeRecords(ctx context.Context, args map[string]any) (map[string]any, error) {
	input, err := stringArg(args, "input_file")
	if err != nil {
		return nil, err
	}
	output, err := stringArg(args, "output_file")
	if err != nil {
		return nil, err
	}
	cacheFile := optionalString(args, "cache_file", defaultCacheFile(output))

	var records []model.ValidatedRecord
	if err := fsutil.ReadJSON(input, &records); err != nil {
		return nil, eris.Wrapf(err, "registry: load records %s", input)
	}

	cache, err := geocode.NewCache(svc.geocoder(), cacheFile)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "geocode"))
	var geocoded, unmatched, skipped, failed int
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "registry: geocode canceled")
		}
		if i%25 == 0 && len(records) > 0 {
			svc.report(i, len(records), fmt.Sprintf("Geocoding record %d/%d", i+1, len(records)), map[string]any{
				"geocoded": geocoded,
				"skipped":  skipped,
			})
		}

		rec := &records[i]
		if rec.Enrichment.Geo != nil {
			skipped++
			continue
		}
		address := svc.composeAddress(rec.Enrichment.Location)
		if address == "" {
			skipped++
			continue
		}

		res, geoErr := cache.Geocode(ctx, address)
		if geoErr != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "registry: geocode canceled")
			}
			failed++
			log.Warn("lookup failed", zap.String("record_id", rec.RecordID), zap.String("address", address), zap.Error(geoErr))
			continue
		}
		if !res.Matched {
			unmatched++
			continue
		}
		rec.Enrichment.Geo = &model.GeoPoint{Latitude: res.Latitude, Longitude: res.Longitude}
		geocoded++
	}

	if err := cache.Save(); err != nil {
		return nil, err
	}
	if err := fsutil.WriteJSON(output, records); err != nil {
		return nil, eris.Wrapf(err, "registry: write geocoded records %s", output)
	}

	hits, misses := cache.Stats()
	log.Info("geocoding complete",
		zap.Int("records", len(records)),
		zap.Int("geocoded", geocoded),
		zap.Int("unmatched", unmatched),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int("cache_hits", hits),
		zap.Int("cache_misses", misses),
	)
	return map[string]any{
		"count":        len(records),
		"geocoded":     geocoded,
		"unmatched":    unmatched,
		"skipped":      skipped,
		"failed":       failed,
		"cache_hits":   hits,
		"cache_misses": misses,
		"output_file":  output,
	}, nil
}

// composeAddress builds the lookup query "distrito, canton, provincia,
// country" from whatever location parts the record has.
func (svc *Services) composeAddress(loc model.Location) string {
	var parts []string
	for _, p := range []string{loc.Distrito, loc.Canton, loc.Provincia} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	country := "Costa Rica"
	if svc.Config != nil && svc.Config.Geocode.DefaultCountry != "" {
		country = svc.Config.Geocode.DefaultCountry
	}
	return strings.Join(append(parts, country), ", ")
}

func (svc *Services) geocoder() geocode.Client {
	if svc.Geocoder != nil {
		return svc.Geocoder
	}
	var opts []geocode.Option
	if svc.Config != nil {
		g := svc.Config.Geocode
		if g.BaseURL != "" {
			opts = append(opts, geocode.WithBaseURL(g.BaseURL))
		}
		if g.RatePerSecond > 0 {
			opts = append(opts, geocode.WithRateLimit(g.RatePerSecond))
		}
		if g.UserAgent != "" {
			opts = append(opts, geocode.WithUserAgent(g.UserAgent))
		}
	}
	svc.Geocoder = geocode.New(opts...)
	return svc.Geocoder
}

// generateSummaries writes a Spanish one-paragraph summary into each record
// that does not already carry one. Per-record API failures are logged and
// skipped.
//
// Args: input_file, output_file, limit (optional, 0 = no limit).
func (svc *Services) generateSummaries(ctx context.Context, args map[string]any) (map[string]any, error) {
	input, err := stringArg(args, "input_file")
	if err != nil {
		return nil, err
	}
	output, err := stringArg(args, "output_file")
	if err != nil {
		return nil, err
	}
	limit := optionalInt(args, "limit", 0)

	client, err := svc.summarizer()
	if err != nil {
		return nil, err
	}

	var records []model.ValidatedRecord
	if err := fsutil.ReadJSON(input, &records); err != nil {
		return nil, eris.Wrapf(err, "registry: load records %s", input)
	}

	log := zap.L().With(zap.String("component", "summarize"))
	var generated, skipped, failed int
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "registry: summaries canceled")
		}
		if limit > 0 && generated >= limit {
			break
		}

		rec := &records[i]
		if rec.Enrichment.Summary != "" {
			skipped++
			continue
		}

		svc.report(i, len(records), fmt.Sprintf("Summarizing record %d/%d", i+1, len(records)), nil)
		text, sumErr := client.Summarize(ctx, summaryFields(rec))
		if sumErr != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "registry: summaries canceled")
			}
			failed++
			log.Warn("summary failed", zap.String("record_id", rec.RecordID), zap.Error(sumErr))
			continue
		}
		rec.Enrichment.Summary = text
		generated++
	}

	if err := fsutil.WriteJSON(output, records); err != nil {
		return nil, eris.Wrapf(err, "registry: write summarized records %s", output)
	}

	log.Info("summaries complete",
		zap.Int("records", len(records)),
		zap.Int("generated", generated),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return map[string]any{
		"count":       len(records),
		"generated":   generated,
		"skipped":     skipped,
		"failed":      failed,
		"output_file": output,
	}, nil
}

// summaryFields selects the record fields worth mentioning in a summary.
func summaryFields(rec *model.ValidatedRecord) map[string]string {
	fields := map[string]string{
		"proyecto":  anyString(rec.CSVData["proyecto"]),
		"obra":      anyString(rec.CSVData["obra"]),
		"subobra":   anyString(rec.CSVData["subobra"]),
		"area_m2":   anyString(rec.CSVData["area"]),
		"ubicacion": rec.Enrichment.Location.FullLocation,
		"estado":    anyString(rec.ProjectData["Estado"]),
		"tasado":    anyString(rec.ProjectData["Tasado"]),
	}
	if rec.Enrichment.ProfessionalInfo != nil {
		fields["colegio_profesional"] = rec.Enrichment.ProfessionalInfo.College
	}
	return fields
}

func anyString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func (svc *Services) summarizer() (summarize.Client, error) {
	if svc.Summarizer != nil {
		return svc.Summarizer, nil
	}
	if svc.Config == nil || svc.Config.Anthropic.Key == "" {
		return nil, eris.New("registry: anthropic.key is not configured")
	}
	a := svc.Config.Anthropic
	svc.Summarizer = summarize.New(a.Key, a.Model, a.MaxTokens)
	return svc.Summarizer, nil
}

func (svc *Services) report(current, total int, message string, metadata map[string]any) {
	if svc.Reporter != nil {
		svc.Reporter.ReportProgress(current, total, message, metadata)
	}
}
