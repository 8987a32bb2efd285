package api

import (
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) getPolicy(ctx *fasthttp.RequestCtx, guildID util.Snowflake) {
	p, err := s.policies.Snapshot(ctx, guildID)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, p)
}

// putPolicy overlays the body on the guild's current document. Fields the
// body omits keep their stored values; a present list or map replaces the
// stored one whole.
func (s *Server) putPolicy(ctx *fasthttp.RequestCtx, guildID util.Snowflake) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(ctx.PostBody(), &present); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid policy document: "+err.Error())
		return
	}
	p, err := s.policies.Snapshot(ctx, guildID)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	if _, ok := present["action_confirmations"]; ok {
		p.ActionConfirmations = nil
	}
	if err := json.Unmarshal(ctx.PostBody(), p); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid policy document: "+err.Error())
		return
	}
	if p.GuildID.IsZero() {
		p.GuildID = guildID
	}
	if p.GuildID != guildID {
		writeError(ctx, fasthttp.StatusBadRequest, "guild_id does not match the path")
		return
	}
	p.FillDefaults()
	if err := p.Validate(); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
		return
	}
	stored, err := s.policies.Put(ctx, p)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, stored)
}

func (s *Server) listInfractions(ctx *fasthttp.RequestCtx, guildID util.Snowflake) {
	args := ctx.QueryArgs()
	userID, ok := snowflakeArg(ctx, "user")
	if !ok {
		return
	}
	f := models.InfractionFilter{
		GuildID: guildID,
		UserID:  userID,
		Status:  models.InfractionStatus(args.Peek("status")),
		Limit:   limitArg(args),
	}
	infs, err := s.ledger.ListInfractions(ctx, f)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, nonNil(infs))
}

func (s *Server) getInfraction(ctx *fasthttp.RequestCtx, id string) {
	inf, err := s.ledger.GetInfraction(ctx, id)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, inf)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) reverseInfraction(ctx *fasthttp.RequestCtx, id string) {
	var req reverseRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "reversed by moderator"
	}
	inf, err := s.ledger.Reverse(ctx, id, req.Reason)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, inf)
}

type appealRequest struct {
	UserID util.Snowflake `json:"user_id"`
	Text   string         `json:"text"`
}

func (s *Server) fileAppeal(ctx *fasthttp.RequestCtx, infractionID string) {
	var req appealRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.UserID.IsZero() || req.Text == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "user_id and text are required")
		return
	}
	a, err := s.ledger.FileAppeal(ctx, infractionID, req.UserID, req.Text)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, a)
}

func (s *Server) listAppeals(ctx *fasthttp.RequestCtx, guildID util.Snowflake) {
	userID, ok := snowflakeArg(ctx, "user")
	if !ok {
		return
	}
	f := models.AppealFilter{GuildID: guildID, UserID: userID, Limit: limitArg(ctx.QueryArgs())}
	if raw := string(ctx.QueryArgs().Peek("status")); raw != "" {
		status, ok := models.ParseAppealStatus(raw)
		if !ok {
			writeError(ctx, fasthttp.StatusBadRequest, "unknown appeal status "+strconv.Quote(raw))
			return
		}
		f.Status = status
	}
	appeals, err := s.ledger.ListAppeals(ctx, f)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, nonNil(appeals))
}

func (s *Server) getAppeal(ctx *fasthttp.RequestCtx, id string) {
	a, err := s.ledger.GetAppeal(ctx, id)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, a)
}

type resolveRequest struct {
	Outcome     models.AppealStatus `json:"outcome"`
	ModeratorID util.Snowflake      `json:"moderator_id"`
}

type resolveResponse struct {
	Appeal     *models.Appeal     `json:"appeal"`
	Infraction *models.Infraction `json:"infraction"`
}

func (s *Server) resolveAppeal(ctx *fasthttp.RequestCtx, id string) {
	var req resolveRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.Outcome != models.AppealAccepted && req.Outcome != models.AppealRejected {
		writeError(ctx, fasthttp.StatusBadRequest, "outcome must be accepted or rejected")
		return
	}
	a, inf, err := s.ledger.ResolveAppeal(ctx, id, req.Outcome, req.ModeratorID)
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, resolveResponse{Appeal: a, Infraction: inf})
}

func (s *Server) listNotes(ctx *fasthttp.RequestCtx, guildID util.Snowflake) {
	notes, err := s.ledger.ListNotes(ctx, guildID, limitArg(ctx.QueryArgs()))
	if err != nil {
		writeLedgerError(ctx, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, nonNil(notes))
}

func decodeBody(ctx *fasthttp.RequestCtx, v any) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func snowflakeArg(ctx *fasthttp.RequestCtx, name string) (util.Snowflake, bool) {
	raw := string(ctx.QueryArgs().Peek(name))
	id, err := util.ParseSnowflake(raw)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid "+name+" id")
		return 0, false
	}
	return id, true
}

func limitArg(args *fasthttp.Args) int {
	n, err := args.GetUint("limit")
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
