package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/purge"
	"github.com/JakeFAU/repack-catalog/internal/syncer"
)

type runFunc func(ctx context.Context) (syncer.Result, error)

// syncHandler runs one sync and reports it as plain text: added titles, then
// one "title: error" line per failure.
func (s *Server) syncHandler(strategy string, run runFunc, purger purge.Invalidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The run outlives a disconnected client; only RunTimeout bounds it.
		ctx := context.WithoutCancel(r.Context())
		if s.opts.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
			defer cancel()
		}

		res, err := run(ctx)
		if errors.Is(err, syncer.ErrRunInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		if len(res.Added) > 0 {
			tags := purge.Tags(s.opts.IndexTag, res.Added)
			pctx, cancel := purge.Detach(ctx)
			perr := purger.Purge(pctx, tags)
			cancel()
			if perr != nil {
				s.logger.Warn("cache purge failed",
					zap.String("strategy", strategy),
					zap.Strings("tags", tags),
					zap.Error(perr))
			}
		}

		body := res.Summary()
		status := http.StatusOK
		if err != nil {
			status = http.StatusInternalServerError
			if body != "" {
				body += "\n"
			}
			body += "error: " + err.Error()
		} else if res.Failed() {
			status = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Total-Count", strconv.Itoa(len(res.Added)))
		w.WriteHeader(status)
		if _, werr := w.Write([]byte(body)); werr != nil {
			s.logger.Warn("write sync response failed", zap.Error(werr))
		}
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	query, err := parseListQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	releases, err := s.deps.Lister.ListReleases(r.Context(), query)
	if err != nil {
		s.logger.Error("list releases failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list releases")
		return
	}
	cache := fmt.Sprintf("max-age=%d, s-maxage=%d",
		int(s.opts.ListMaxAge.Seconds()), int(s.opts.ListSharedMaxAge.Seconds()))
	w.Header().Set("Cache-Control", cache)
	w.Header().Set("CDN-Cache-Control", cache)
	w.Header().Set("Cache-Tag", s.opts.IndexTag)
	s.writeJSON(w, http.StatusOK, releases)
}

// parseListQuery maps the 1-based page parameter onto a zero-based ListQuery.
func parseListQuery(r *http.Request) (catalog.ListQuery, error) {
	q := r.URL.Query()
	query := catalog.ListQuery{
		Title:   strings.TrimSpace(q.Get("title")),
		Genre:   strings.TrimSpace(firstNonEmpty(q.Get("genre"), q.Get("selectedGenre"))),
		Company: strings.TrimSpace(q.Get("company")),
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return catalog.ListQuery{}, fmt.Errorf("page must be a positive integer")
		}
		query.Page = page - 1
	}
	if raw := q.Get("pinkPaw"); raw != "" {
		pinkPaw, err := strconv.ParseBool(raw)
		if err != nil {
			return catalog.ListQuery{}, fmt.Errorf("pinkPaw must be a boolean")
		}
		query.PinkPaw = pinkPaw
	}
	for _, raw := range q["slugs"] {
		for _, slug := range strings.Split(raw, ",") {
			if slug = strings.TrimSpace(slug); slug != "" {
				query.Slugs = append(query.Slugs, slug)
			}
		}
	}
	return query, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
