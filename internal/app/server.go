package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ggonzalez94/route-engine/internal/aggregator"
	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/limitorder"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/providers"
	"github.com/ggonzalez94/route-engine/internal/registry"
	"github.com/ggonzalez94/route-engine/internal/signer"
)

// Server exposes the aggregation and order services over HTTP. The signer is
// optional: order endpoints answer with an error when no signing capability
// was configured at startup.
type Server struct {
	agg      *aggregator.Aggregator
	orders   *limitorder.Service
	reg      *registry.Registry
	adapters []providers.Adapter
	signer   signer.Signer
	log      zerolog.Logger
}

func NewServer(agg *aggregator.Aggregator, orders *limitorder.Service, reg *registry.Registry, adapters []providers.Adapter, orderSigner signer.Signer, log zerolog.Logger) *Server {
	return &Server{
		agg:      agg,
		orders:   orders,
		reg:      reg,
		adapters: adapters,
		signer:   orderSigner,
		log:      log,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.GET("/route", s.handleRoute)
	v1.POST("/route", s.handleRoute)
	v1.POST("/orders", s.handleCreateOrder)
	v1.GET("/orders", s.handleListOrders)
	v1.DELETE("/orders/:hash", s.handleCancelOrder)
	v1.GET("/chains", s.handleChains)
	v1.GET("/tokens", s.handleTokens)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("request")
	}
}

// routeEnvelope is the /v1/route response body. Route stays an explicit null
// on every failure path so a missing route is never ambiguous.
type routeEnvelope struct {
	Route        *model.RouteCandidate  `json:"route"`
	Alternatives []model.RouteCandidate `json:"alternatives,omitempty"`
	Timestamp    *time.Time             `json:"timestamp,omitempty"`
	ExpiresAt    *time.Time             `json:"expiresAt,omitempty"`
	Error        *errorBody             `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRoute(c *gin.Context) {
	var req model.RouteRequest
	var err error
	if c.Request.Method == http.MethodPost {
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			err = domerr.Wrap(domerr.CodeValidation, "decode route request", bindErr)
		}
	} else {
		req, err = routeRequestFromQuery(c)
	}
	if err != nil {
		s.renderRouteError(c, err)
		return
	}

	resp, _, err := s.agg.Route(c.Request.Context(), req)
	if err != nil {
		s.renderRouteError(c, err)
		return
	}

	ts := resp.Timestamp.UTC()
	exp := resp.ExpiresAt.UTC()
	c.JSON(http.StatusOK, routeEnvelope{
		Route:        resp.Route,
		Alternatives: resp.Alternatives,
		Timestamp:    &ts,
		ExpiresAt:    &exp,
	})
}

func (s *Server) renderRouteError(c *gin.Context, err error) {
	status := domerr.HTTPStatus(err)
	if status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	c.JSON(status, routeEnvelope{
		Route: nil,
		Error: &errorBody{Code: string(domerr.CodeOf(err)), Message: err.Error()},
	})
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := domerr.HTTPStatus(err)
	if status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": errorBody{Code: string(domerr.CodeOf(err)), Message: err.Error()}})
}

func routeRequestFromQuery(c *gin.Context) (model.RouteRequest, error) {
	fromChain, err := queryInt64(c, "fromChain")
	if err != nil {
		return model.RouteRequest{}, err
	}
	toChain, err := queryInt64(c, "toChain")
	if err != nil {
		return model.RouteRequest{}, err
	}
	slippageBps := int64(0)
	if v := strings.TrimSpace(c.Query("slippageBps")); v != "" {
		slippageBps, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.RouteRequest{}, domerr.Newf(domerr.CodeValidation, "invalid slippageBps %q", v)
		}
	}
	req := model.RouteRequest{
		FromToken:    model.TokenRef{ChainID: fromChain, Address: c.Query("fromToken")},
		ToToken:      model.TokenRef{ChainID: toChain, Address: c.Query("toToken")},
		FromAmount:   c.Query("fromAmount"),
		ToAmount:     c.Query("toAmount"),
		SlippageBps:  slippageBps,
		SlippageMode: model.SlippageMode(c.DefaultQuery("slippageMode", string(model.SlippageModeFixed))),
		Sender:       c.Query("sender"),
		Recipient:    c.Query("recipient"),
		Order:        model.OrderPreference(strings.ToUpper(strings.TrimSpace(c.Query("order")))),
	}
	return req, nil
}

func queryInt64(c *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, domerr.Newf(domerr.CodeValidation, "%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domerr.Newf(domerr.CodeValidation, "invalid %s %q", name, raw)
	}
	return v, nil
}

type createOrderRequest struct {
	ChainID            int64  `json:"chainId"`
	MakerAsset         string `json:"makerAsset"`
	TakerAsset         string `json:"takerAsset"`
	MakingAmount       string `json:"makingAmount"`
	TakingAmount       string `json:"takingAmount"`
	Receiver           string `json:"receiver,omitempty"`
	Expiration         int64  `json:"expiration,omitempty"`
	AllowPartialFill   bool   `json:"allowPartialFill"`
	AllowMultipleFills bool   `json:"allowMultipleFills"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	if s.signer == nil {
		s.renderError(c, domerr.New(domerr.CodeUnavailable, "no signing key configured for order creation"))
		return
	}
	var body createOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.renderError(c, domerr.Wrap(domerr.CodeValidation, "decode order request", err))
		return
	}
	order, err := s.orders.Create(c.Request.Context(), limitorder.CreateParams{
		ChainID:            body.ChainID,
		MakerAsset:         body.MakerAsset,
		TakerAsset:         body.TakerAsset,
		MakingAmount:       body.MakingAmount,
		TakingAmount:       body.TakingAmount,
		Receiver:           body.Receiver,
		Expiration:         body.Expiration,
		AllowPartialFill:   body.AllowPartialFill,
		AllowMultipleFills: body.AllowMultipleFills,
	}, s.signer)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleListOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.orders.OpenOrders()})
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	chainID, err := queryInt64(c, "chainId")
	if err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.orders.Cancel(c.Request.Context(), chainID, c.Param("hash")); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": s.reg.Chains()})
}

func (s *Server) handleTokens(c *gin.Context) {
	chainID, err := queryInt64(c, "chainId")
	if err != nil {
		s.renderError(c, err)
		return
	}
	limit := 50
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	params := providers.TokenParams{ChainID: chainID, Query: c.Query("query"), Limit: limit}

	tokens := make([]model.NormalizedToken, 0, limit)
	for _, adapter := range s.adapters {
		items, err := adapter.FetchTokens(c.Request.Context(), params)
		if err != nil {
			s.log.Warn().Str("provider", adapter.Info().Name).Err(err).Msg("token listing failed")
			continue
		}
		tokens = append(tokens, items...)
		if len(tokens) >= limit {
			tokens = tokens[:limit]
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}
