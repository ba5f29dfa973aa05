// Package debugserver exposes execution control of a dispatcher over HTTP.
package debugserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"

	"github.com/sarchlab/n64jit/codecache"
	"github.com/sarchlab/n64jit/dispatch"
	"github.com/sarchlab/n64jit/emu"
	"github.com/sarchlab/n64jit/insts"
)

// Server serves the debug endpoints:
//
//	GET    /status           dispatcher counters
//	GET    /cpu              CPU registers, taken between blocks
//	GET    /cache            code cache statistics and blocks
//	POST   /stop             halt the dispatcher
//	POST   /reset            cold reset
//	POST   /cache/clear      drop all compiled blocks
//	POST   /interrupt/:line  assert an external interrupt line
//	DELETE /interrupt/:line  deassert it
type Server struct {
	d   *dispatch.Dispatcher
	e   *echo.Echo
	log logr.Logger
}

// New creates a server for d.
func New(d *dispatch.Dispatcher, log logr.Logger) *Server {
	s := &Server{d: d, e: echo.New(), log: log}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.e.GET("/status", s.status)
	s.e.GET("/cpu", s.cpu)
	s.e.GET("/cache", s.cache)
	s.e.POST("/stop", s.stop)
	s.e.POST("/reset", s.reset)
	s.e.POST("/cache/clear", s.clearCache)
	s.e.POST("/interrupt/:line", s.interrupt(d.RaiseInterrupt))
	s.e.DELETE("/interrupt/:line", s.interrupt(d.ClearInterrupt))
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("debug server listening", "addr", addr)
	err := s.e.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// CPUView is the JSON form of the CPU state. Values are hexadecimal.
type CPUView struct {
	PC      string            `json:"pc"`
	HI      string            `json:"hi"`
	LO      string            `json:"lo"`
	LLBit   bool              `json:"llbit"`
	GPR     map[string]string `json:"gpr"`
	CP0     map[string]string `json:"cp0"`
	Retired uint64            `json:"retired"`
}

func hex64(v uint64) string {
	return fmt.Sprintf("0x%016X", v)
}

func viewOf(s *emu.CpuState) CPUView {
	v := CPUView{
		PC:      hex64(s.PC),
		HI:      hex64(s.HI),
		LO:      hex64(s.LO),
		LLBit:   s.LLBit,
		GPR:     make(map[string]string, 32),
		Retired: s.Retired,
	}
	for i, r := range s.GPR {
		v.GPR[insts.RegNames[i]] = hex64(r)
	}

	c := &s.CP0
	v.CP0 = map[string]string{
		"index":    hex64(c.Index),
		"random":   hex64(c.Random),
		"entrylo0": hex64(c.EntryLo0),
		"entrylo1": hex64(c.EntryLo1),
		"context":  hex64(c.Context),
		"pagemask": hex64(c.PageMask),
		"wired":    hex64(c.Wired),
		"badvaddr": hex64(c.BadVAddr),
		"count":    hex64(c.Count),
		"entryhi":  hex64(c.EntryHi),
		"compare":  hex64(c.Compare),
		"status":   hex64(c.Status),
		"cause":    hex64(c.Cause),
		"epc":      hex64(c.EPC),
		"errorepc": hex64(c.ErrorEPC),
	}
	return v
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.d.Status())
}

func (s *Server) cpu(c echo.Context) error {
	snap, err := s.d.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, viewOf(&snap))
}

type cacheView struct {
	Stats   codecache.Statistics  `json:"stats"`
	HitRate float64               `json:"hit_rate"`
	Blocks  []codecache.BlockInfo `json:"blocks"`
}

func (s *Server) cache(c echo.Context) error {
	stats := s.d.CacheStats()
	return c.JSON(http.StatusOK, cacheView{
		Stats:   stats,
		HitRate: stats.HitRate(),
		Blocks:  s.d.CacheBlocks(),
	})
}

func (s *Server) stop(c echo.Context) error {
	s.d.Stop()
	s.log.Info("stop requested")
	return c.JSON(http.StatusOK, s.d.Status())
}

func (s *Server) reset(c echo.Context) error {
	if err := s.d.Reset(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, s.d.Status())
}

func (s *Server) clearCache(c echo.Context) error {
	if err := s.d.ClearCache(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) interrupt(set func(int) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		line, err := strconv.Atoi(c.Param("line"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "interrupt line must be a number")
		}
		if err := set(line); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}
