package admin

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/castlebay/modeldesk/internal/analytics"
	"github.com/castlebay/modeldesk/internal/app"
	"github.com/castlebay/modeldesk/internal/httpserver/httputil"
	"github.com/castlebay/modeldesk/internal/timeutil"
)

type usageHandler struct {
	container *app.Container
	service   *analytics.Service
}

func registerUsageRoutes(router fiber.Router, container *app.Container) {
	handler := &usageHandler{
		container: container,
		service:   container.UsageService,
	}

	group := router.Group("/usage")
	group.Get("/", handler.getUsage)
	group.Get("/export", handler.exportUsage)
	group.Post("/recompute", handler.recompute)
}

func (h *usageHandler) getUsage(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}

	query, err := h.parseQuery(c)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	query.Compare = strings.EqualFold(c.Query("compare"), "true")
	query.TopN = c.QueryInt("top", 0)

	report, err := h.service.GetUsage(c.Context(), callerFromCtx(c), query)
	if err != nil {
		return writeUsageError(c, err)
	}
	return c.JSON(report)
}

func (h *usageHandler) exportUsage(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}

	query, err := h.parseQuery(c)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}
	query.TopN = c.QueryInt("top", 0)

	shape := analytics.ExportShape{
		Granularity: analytics.ExportGranularity(strings.ToLower(c.Query("granularity", string(analytics.ExportByRange)))),
		Dimension:   analytics.ExportDimension(strings.ToLower(c.Query("dimension", string(analytics.ExportModels)))),
	}

	cursor, err := h.service.ExportUsage(c.Context(), callerFromCtx(c), query, shape)
	if err != nil {
		return writeUsageError(c, err)
	}

	format := strings.ToLower(c.Query("format", "csv"))
	switch format {
	case "csv":
		return writeCSV(c, cursor)
	case "json":
		var rows []analytics.ExportRow
		for cursor.Next() {
			rows = append(rows, cursor.Row())
		}
		return c.JSON(fiber.Map{"rows": rows})
	default:
		return httputil.WriteError(c, fiber.StatusBadRequest, "format must be csv or json")
	}
}

type recomputeRequest struct {
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Users     []string `json:"users"`
	Models    []string `json:"models"`
	Providers []string `json:"providers"`
	APIKeys   []string `json:"api_keys"`
}

func (h *usageHandler) recompute(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}

	var req recomputeRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	start, end, err := h.parseRange(req.Start, req.End)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	query := analytics.Query{
		Start: start,
		End:   end,
		Filters: analytics.Filters{
			Users:     req.Users,
			Models:    req.Models,
			Providers: req.Providers,
			APIKeys:   req.APIKeys,
		},
	}
	rebuilt, err := h.service.RecomputeRange(c.Context(), callerFromCtx(c), query)
	if err != nil {
		return writeUsageError(c, err)
	}
	return c.JSON(fiber.Map{"rebuilt_days": rebuilt})
}

func (h *usageHandler) parseQuery(c *fiber.Ctx) (analytics.Query, error) {
	start, end, err := h.resolveWindow(c.Query("period"), c.Query("start"), c.Query("end"))
	if err != nil {
		return analytics.Query{}, err
	}
	return analytics.Query{
		Start: start,
		End:   end,
		Filters: analytics.Filters{
			Users:     splitParam(c.Query("users")),
			Models:    splitParam(c.Query("models")),
			Providers: splitParam(c.Query("providers")),
			APIKeys:   splitParam(c.Query("api_keys")),
		},
	}, nil
}

// resolveWindow accepts either a rolling period ("7d", "24h") ending now or
// explicit inclusive YYYY-MM-DD bounds in the reporting timezone. Both forms
// reduce to the engine's half-open [start, end) range.
func (h *usageHandler) resolveWindow(period, startRaw, endRaw string) (time.Time, time.Time, error) {
	if strings.TrimSpace(period) != "" {
		win, err := timeutil.NewWindow(period, time.Now(), h.location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("period must look like 7d or 24h")
		}
		start, end := win.Bounds()
		return start, end, nil
	}
	return h.parseRange(startRaw, endRaw)
}

// parseRange reads inclusive YYYY-MM-DD bounds in the reporting timezone and
// converts them to the engine's half-open [start, end) form.
func (h *usageHandler) parseRange(startRaw, endRaw string) (time.Time, time.Time, error) {
	loc := h.location()
	start, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(startRaw), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start must be YYYY-MM-DD")
	}
	endDay, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(endRaw), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be YYYY-MM-DD")
	}
	win, err := timeutil.NewWindowFromRange(start, timeutil.NextDay(endDay), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end must not precede start")
	}
	s, e := win.Bounds()
	return s, e, nil
}

func (h *usageHandler) location() *time.Location {
	if h.container != nil && h.container.Config != nil {
		if loc, err := time.LoadLocation(h.container.Config.Reporting.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func splitParam(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeUsageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, analytics.ErrUnauthorized):
		return httputil.WriteError(c, fiber.StatusForbidden, "admin read access required")
	case errors.Is(err, analytics.ErrInvalidRange),
		errors.Is(err, analytics.ErrRangeTooWide),
		errors.Is(err, analytics.ErrInvalidFilter):
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, analytics.ErrBuildTimeout):
		return httputil.WriteError(c, fiber.StatusGatewayTimeout, err.Error())
	case errors.Is(err, analytics.ErrUpstreamRead):
		return httputil.WriteError(c, fiber.StatusBadGateway, err.Error())
	default:
		return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
	}
}

func writeCSV(c *fiber.Ctx, cursor *analytics.ExportCursor) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"date", "dimension", "key", "display_name", "provider", "unknown",
		"requests", "prompt_tokens", "completion_tokens", "total_tokens", "cost_usd", "average_cost_usd"}
	if err := w.Write(header); err != nil {
		return err
	}
	for cursor.Next() {
		row := cursor.Row()
		record := []string{
			row.Date,
			row.Dimension,
			row.Key,
			row.DisplayName,
			row.Provider,
			strconv.FormatBool(row.Unknown),
			strconv.FormatInt(row.Requests, 10),
			strconv.FormatInt(row.PromptTokens, 10),
			strconv.FormatInt(row.CompletionTokens, 10),
			strconv.FormatInt(row.TotalTokens, 10),
			strconv.FormatFloat(row.CostUSD, 'f', 6, 64),
			strconv.FormatFloat(row.AverageCostUSD, 'f', 6, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="usage_export.csv"`)
	return c.Send(buf.Bytes())
}
