package web

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/doorgraph/internal/core"
)

// maxFragmentWarnings caps the warning list of a run fragment; the JSON
// response always carries all of them.
const maxFragmentWarnings = 20

func renderFragment(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render fragment", "error", err, "path", r.URL.Path)
	}
}

func errorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w,
			`<div class="alert alert-error" role="alert"><p class="alert-message">%s</p><p class="alert-action">%s</p><p class="alert-code">Code: %s</p></div>`,
			templ.EscapeString(msg.Message),
			templ.EscapeString(msg.Action),
			templ.EscapeString(msg.Code),
		)
		return err
	})
}

func runSummary(res *core.RunResult) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		state := "run-success"
		if !res.Success {
			state = "run-failure"
		}
		if _, err := fmt.Fprintf(w, `<section class="run %s" data-run-id="%s" data-version="%d"><p class="run-status">%s</p>`,
			state, templ.EscapeString(res.RunID), res.Version, templ.EscapeString(res.Status)); err != nil {
			return err
		}

		for _, e := range res.Errors {
			if err := errorAlert(e.UserMessage).Render(ctx, w); err != nil {
				return err
			}
		}

		if res.Success {
			st := res.Stats
			if _, err := fmt.Fprintf(w,
				`<dl class="run-stats"><dt>Events</dt><dd>%d</dd><dt>Doors</dt><dd>%d</dd><dt>Tokens</dt><dd>%d</dd><dt>Days with data</dt><dd>%d</dd><dt>Date range</dt><dd>%s to %s</dd></dl>`,
				st.TotalAccessEvents, st.NumDevices, st.UniqueTokens, st.DaysWithData,
				templ.EscapeString(st.EventDateRange.Min), templ.EscapeString(st.EventDateRange.Max),
			); err != nil {
				return err
			}
		}

		if n := len(res.Warnings); n > 0 {
			if _, err := fmt.Fprintf(w, `<details class="run-warnings"><summary>%d warnings</summary><ul>`, n); err != nil {
				return err
			}
			for i, warn := range res.Warnings {
				if i == maxFragmentWarnings {
					if _, err := fmt.Fprintf(w, `<li>and %d more</li>`, n-i); err != nil {
						return err
					}
					break
				}
				if _, err := fmt.Fprintf(w, `<li data-kind="%s">%s</li>`,
					templ.EscapeString(string(warn.Kind)), templ.EscapeString(warn.Message)); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</ul></details>`); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, `</section>`)
		return err
	})
}
