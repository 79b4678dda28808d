// Package mcpserver registers MCP tools that expose the Meta Marketing API.
// Every tool resolves an access token through the auth manager before it
// touches the Graph API.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pipeboard-co/meta-ads-mcp/internal/auth"
	"github.com/pipeboard-co/meta-ads-mcp/internal/meta"
)

// Default Graph field lists.
const (
	accountFields  = "id,name,account_id,account_status,amount_spent,balance,currency,age,business_city,business_country_code"
	campaignFields = "id,name,objective,status,effective_status,daily_budget,lifetime_budget,buying_type,bid_strategy,start_time,stop_time,created_time,updated_time"
	adsetFields    = "id,name,campaign_id,status,effective_status,daily_budget,lifetime_budget,targeting,bid_amount,bid_strategy,optimization_goal,billing_event,start_time,end_time,created_time,updated_time"
	adFields       = "id,name,adset_id,campaign_id,status,effective_status,creative,created_time,updated_time,bid_amount"
	insightFields  = "account_id,account_name,campaign_id,campaign_name,adset_id,adset_name,ad_id,ad_name,impressions,clicks,spend,cpc,cpm,ctr,reach,frequency,actions,conversions,unique_clicks,cost_per_action_type"
)

const (
	defaultAccountLimit = 200
	defaultListLimit    = 10
)

// Resolver is the part of the auth manager the tools use.
type Resolver interface {
	Resolve(ctx context.Context, ac auth.Context, caps auth.Capabilities, opts ...auth.ResolveOption) (*auth.Token, error)
	Invalidate(ctx context.Context, ac auth.Context)
	LoginURL(ctx context.Context, ac auth.Context) (string, error)
}

// Graph performs Graph API calls.
type Graph interface {
	Get(ctx context.Context, cred meta.Credentials, path string, params url.Values) ([]byte, error)
	Post(ctx context.Context, cred meta.Credentials, path string, params url.Values) ([]byte, error)
}

// CredentialSource builds the auth context for one tool call.
type CredentialSource func(req *mcp.CallToolRequest) auth.Context

// EnvCredentials returns the same process-level context for every call.
// Used by the stdio transport.
func EnvCredentials(ac auth.Context) CredentialSource {
	return func(*mcp.CallToolRequest) auth.Context { return ac }
}

// HeaderCredentials reads the context from the HTTP headers of each call.
// The app secret never travels in a header; it is attached from server
// configuration when the header app ID matches appID.
func HeaderCredentials(appID, appSecret string) CredentialSource {
	return func(req *mcp.CallToolRequest) auth.Context {
		var h http.Header
		if req != nil && req.Extra != nil {
			h = req.Extra.Header
		}
		return auth.FromHeaders(h).WithAppSecret(appID, appSecret)
	}
}

// Deps holds everything the tool handlers need.
type Deps struct {
	Auth        Resolver
	Graph       Graph
	Credentials CredentialSource

	// Interactive allows tools to open a browser and wait for a login.
	// Only true for the stdio transport.
	Interactive bool

	Logger *slog.Logger
}

// RegisterTools adds all Meta Ads tools to the given MCP server.
func RegisterTools(server *mcp.Server, d *Deps) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	if d.Credentials == nil {
		d.Credentials = EnvCredentials(auth.Context{})
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_ad_accounts",
		Description: "List the ad accounts the authenticated user can access. Call this first to find account IDs.",
	}, getAdAccountsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_account_info",
		Description: "Get details for one ad account, including spend and balance formatted in the account currency.",
	}, getAccountInfoHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_campaigns",
		Description: "List campaigns in an ad account, optionally filtered by effective status (ACTIVE, PAUSED, ...).",
	}, getCampaignsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_campaign_details",
		Description: "Get details for one campaign.",
	}, getCampaignDetailsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_campaign",
		Description: "Create a campaign in an ad account. New campaigns are PAUSED unless a status is given. Budgets are in the account currency's minor units (cents).",
	}, createCampaignHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_campaign",
		Description: "Update a campaign's name, status or budget. Only the fields provided are changed.",
	}, updateCampaignHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_adsets",
		Description: "List ad sets in an ad account, or in one campaign when campaign_id is given.",
	}, getAdSetsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_adset_details",
		Description: "Get details for one ad set, including targeting.",
	}, getAdSetDetailsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_ads",
		Description: "List ads in an ad account, narrowed to a campaign or ad set when their IDs are given.",
	}, getAdsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_ad_details",
		Description: "Get details for one ad.",
	}, getAdDetailsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_insights",
		Description: "Get performance insights for an account, campaign, ad set or ad. time_range is a date preset such as last_30d or maximum, or a JSON object {\"since\":\"YYYY-MM-DD\",\"until\":\"YYYY-MM-DD\"}.",
	}, getInsightsHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_budget_schedule",
		Description: "Schedule a budget increase for a campaign during a high-demand period. Times are Unix timestamps.",
	}, createBudgetScheduleHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_login_link",
		Description: "Get a link the user can open to connect or re-authorize their Meta account.",
	}, getLoginLinkHandler(d))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// GetAdAccountsInput holds parameters for get_ad_accounts.
type GetAdAccountsInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"Meta user ID, defaults to me"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of accounts, defaults to 200"`
}

// AccountInput identifies one ad account.
type AccountInput struct {
	AccountID string `json:"account_id" jsonschema:"required,ad account ID, with or without the act_ prefix"`
}

// GetCampaignsInput holds parameters for get_campaigns.
type GetCampaignsInput struct {
	AccountID    string `json:"account_id" jsonschema:"required,ad account ID"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum number of campaigns, defaults to 10"`
	StatusFilter string `json:"status_filter,omitempty" jsonschema:"effective status to filter by, e.g. ACTIVE or PAUSED"`
}

// CampaignInput identifies one campaign.
type CampaignInput struct {
	CampaignID string `json:"campaign_id" jsonschema:"required,campaign ID"`
}

// CreateCampaignInput holds parameters for create_campaign.
type CreateCampaignInput struct {
	AccountID           string   `json:"account_id" jsonschema:"required,ad account ID"`
	Name                string   `json:"name" jsonschema:"required,campaign name"`
	Objective           string   `json:"objective" jsonschema:"required,campaign objective, e.g. OUTCOME_TRAFFIC"`
	Status              string   `json:"status,omitempty" jsonschema:"initial status, defaults to PAUSED"`
	SpecialAdCategories []string `json:"special_ad_categories,omitempty" jsonschema:"special ad categories, defaults to none"`
	DailyBudget         int64    `json:"daily_budget,omitempty" jsonschema:"daily budget in minor units"`
	LifetimeBudget      int64    `json:"lifetime_budget,omitempty" jsonschema:"lifetime budget in minor units"`
	BuyingType          string   `json:"buying_type,omitempty" jsonschema:"buying type, e.g. AUCTION"`
	BidStrategy         string   `json:"bid_strategy,omitempty" jsonschema:"bid strategy, e.g. LOWEST_COST_WITHOUT_CAP"`
}

// UpdateCampaignInput holds parameters for update_campaign.
type UpdateCampaignInput struct {
	CampaignID     string `json:"campaign_id" jsonschema:"required,campaign ID"`
	Name           string `json:"name,omitempty" jsonschema:"new campaign name"`
	Status         string `json:"status,omitempty" jsonschema:"new status, e.g. ACTIVE or PAUSED"`
	DailyBudget    *int64 `json:"daily_budget,omitempty" jsonschema:"new daily budget in minor units"`
	LifetimeBudget *int64 `json:"lifetime_budget,omitempty" jsonschema:"new lifetime budget in minor units"`
}

// GetAdSetsInput holds parameters for get_adsets.
type GetAdSetsInput struct {
	AccountID  string `json:"account_id" jsonschema:"required,ad account ID"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of ad sets, defaults to 10"`
	CampaignID string `json:"campaign_id,omitempty" jsonschema:"only list ad sets in this campaign"`
}

// AdSetInput identifies one ad set.
type AdSetInput struct {
	AdSetID string `json:"adset_id" jsonschema:"required,ad set ID"`
}

// GetAdsInput holds parameters for get_ads.
type GetAdsInput struct {
	AccountID  string `json:"account_id" jsonschema:"required,ad account ID"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of ads, defaults to 10"`
	CampaignID string `json:"campaign_id,omitempty" jsonschema:"only list ads in this campaign"`
	AdSetID    string `json:"adset_id,omitempty" jsonschema:"only list ads in this ad set, takes priority over campaign_id"`
}

// AdInput identifies one ad.
type AdInput struct {
	AdID string `json:"ad_id" jsonschema:"required,ad ID"`
}

// GetInsightsInput holds parameters for get_insights.
type GetInsightsInput struct {
	ObjectID  string `json:"object_id" jsonschema:"required,ID of an ad account, campaign, ad set or ad"`
	TimeRange string `json:"time_range,omitempty" jsonschema:"date preset or {since,until} JSON object, defaults to maximum"`
	Breakdown string `json:"breakdown,omitempty" jsonschema:"breakdown dimension, e.g. age or country"`
	Level     string `json:"level,omitempty" jsonschema:"aggregation level: account, campaign, adset or ad, defaults to ad"`
}

// CreateBudgetScheduleInput holds parameters for create_budget_schedule.
type CreateBudgetScheduleInput struct {
	CampaignID      string `json:"campaign_id" jsonschema:"required,campaign ID"`
	BudgetValue     int64  `json:"budget_value" jsonschema:"required,amount of the increase, interpreted per budget_value_type"`
	BudgetValueType string `json:"budget_value_type" jsonschema:"required,ABSOLUTE or MULTIPLIER"`
	TimeStart       int64  `json:"time_start" jsonschema:"required,Unix timestamp when the period starts"`
	TimeEnd         int64  `json:"time_end" jsonschema:"required,Unix timestamp when the period ends"`
}

// LoginLinkInput has no parameters.
type LoginLinkInput struct{}

// LoginLinkResult is returned by get_login_link.
type LoginLinkResult struct {
	Method       auth.Method `json:"auth_method"`
	Message      string      `json:"message"`
	LoginURL     string      `json:"login_url,omitempty"`
	MarkdownLink string      `json:"markdown_link,omitempty"`
}

// --- Handlers ---

func getAdAccountsHandler(d *Deps) mcp.ToolHandlerFor[GetAdAccountsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetAdAccountsInput) (*mcp.CallToolResult, any, error) {
		user := input.UserID
		if user == "" {
			user = "me"
		}
		params := url.Values{
			"fields": {accountFields},
			"limit":  {strconv.Itoa(limitOr(input.Limit, defaultAccountLimit))},
		}
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			return d.Graph.Get(ctx, cred, user+"/adaccounts", params)
		})
	}
}

func getAccountInfoHandler(d *Deps) mcp.ToolHandlerFor[AccountInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AccountInput) (*mcp.CallToolResult, any, error) {
		return d.graphCallWith(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			account, err := accountPath(input.AccountID)
			if err != nil {
				return nil, err
			}
			return d.Graph.Get(ctx, cred, account, url.Values{"fields": {accountFields + ",timezone_name,spend_cap"}})
		}, withAccountDisplay)
	}
}

func getCampaignsHandler(d *Deps) mcp.ToolHandlerFor[GetCampaignsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetCampaignsInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			account, err := accountPath(input.AccountID)
			if err != nil {
				return nil, err
			}
			params := url.Values{
				"fields": {campaignFields},
				"limit":  {strconv.Itoa(limitOr(input.Limit, defaultListLimit))},
			}
			if input.StatusFilter != "" {
				params.Set("effective_status", jsonList(strings.ToUpper(input.StatusFilter)))
			}
			return d.Graph.Get(ctx, cred, account+"/campaigns", params)
		})
	}
}

func getCampaignDetailsHandler(d *Deps) mcp.ToolHandlerFor[CampaignInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CampaignInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			if err := requiredID("campaign_id", input.CampaignID); err != nil {
				return nil, err
			}
			return d.Graph.Get(ctx, cred, input.CampaignID, url.Values{"fields": {campaignFields}})
		})
	}
}

func createCampaignHandler(d *Deps) mcp.ToolHandlerFor[CreateCampaignInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CreateCampaignInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			account, err := accountPath(input.AccountID)
			if err != nil {
				return nil, err
			}
			if err := required("name", input.Name); err != nil {
				return nil, err
			}
			if err := required("objective", input.Objective); err != nil {
				return nil, err
			}

			status := input.Status
			if status == "" {
				status = "PAUSED"
			}
			categories := input.SpecialAdCategories
			if categories == nil {
				categories = []string{}
			}

			params := url.Values{
				"name":                  {input.Name},
				"objective":             {input.Objective},
				"status":                {status},
				"special_ad_categories": {jsonList(categories...)},
			}
			setInt(params, "daily_budget", input.DailyBudget)
			setInt(params, "lifetime_budget", input.LifetimeBudget)
			setString(params, "buying_type", input.BuyingType)
			setString(params, "bid_strategy", input.BidStrategy)

			return d.Graph.Post(ctx, cred, account+"/campaigns", params)
		})
	}
}

func updateCampaignHandler(d *Deps) mcp.ToolHandlerFor[UpdateCampaignInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input UpdateCampaignInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			if err := requiredID("campaign_id", input.CampaignID); err != nil {
				return nil, err
			}

			params := url.Values{}
			setString(params, "name", input.Name)
			setString(params, "status", input.Status)
			if input.DailyBudget != nil {
				params.Set("daily_budget", strconv.FormatInt(*input.DailyBudget, 10))
			}
			if input.LifetimeBudget != nil {
				params.Set("lifetime_budget", strconv.FormatInt(*input.LifetimeBudget, 10))
			}
			if len(params) == 0 {
				return nil, invalidInput("no fields to update")
			}

			return d.Graph.Post(ctx, cred, input.CampaignID, params)
		})
	}
}

func getAdSetsHandler(d *Deps) mcp.ToolHandlerFor[GetAdSetsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetAdSetsInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			account, err := accountPath(input.AccountID)
			if err != nil {
				return nil, err
			}
			if err := optionalID("campaign_id", input.CampaignID); err != nil {
				return nil, err
			}
			parent := account
			if input.CampaignID != "" {
				parent = input.CampaignID
			}
			params := url.Values{
				"fields": {adsetFields},
				"limit":  {strconv.Itoa(limitOr(input.Limit, defaultListLimit))},
			}
			return d.Graph.Get(ctx, cred, parent+"/adsets", params)
		})
	}
}

func getAdSetDetailsHandler(d *Deps) mcp.ToolHandlerFor[AdSetInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AdSetInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			if err := requiredID("adset_id", input.AdSetID); err != nil {
				return nil, err
			}
			return d.Graph.Get(ctx, cred, input.AdSetID, url.Values{"fields": {adsetFields}})
		})
	}
}

func getAdsHandler(d *Deps) mcp.ToolHandlerFor[GetAdsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetAdsInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			account, err := accountPath(input.AccountID)
			if err != nil {
				return nil, err
			}
			if err := optionalID("adset_id", input.AdSetID); err != nil {
				return nil, err
			}
			if err := optionalID("campaign_id", input.CampaignID); err != nil {
				return nil, err
			}
			parent := account
			switch {
			case input.AdSetID != "":
				parent = input.AdSetID
			case input.CampaignID != "":
				parent = input.CampaignID
			}
			params := url.Values{
				"fields": {adFields},
				"limit":  {strconv.Itoa(limitOr(input.Limit, defaultListLimit))},
			}
			return d.Graph.Get(ctx, cred, parent+"/ads", params)
		})
	}
}

func getAdDetailsHandler(d *Deps) mcp.ToolHandlerFor[AdInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AdInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			if err := requiredID("ad_id", input.AdID); err != nil {
				return nil, err
			}
			return d.Graph.Get(ctx, cred, input.AdID, url.Values{"fields": {adFields}})
		})
	}
}

func getInsightsHandler(d *Deps) mcp.ToolHandlerFor[GetInsightsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetInsightsInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			if err := requiredID("object_id", input.ObjectID); err != nil {
				return nil, err
			}

			level := input.Level
			if level == "" {
				level = "ad"
			}
			params := url.Values{
				"fields": {insightFields},
				"level":  {level},
			}

			timeRange := strings.TrimSpace(input.TimeRange)
			switch {
			case timeRange == "":
				params.Set("date_preset", "maximum")
			case strings.HasPrefix(timeRange, "{"):
				if !json.Valid([]byte(timeRange)) {
					return nil, invalidInput("time_range is not valid JSON")
				}
				params.Set("time_range", timeRange)
			default:
				params.Set("date_preset", timeRange)
			}
			setString(params, "breakdowns", input.Breakdown)

			return d.Graph.Get(ctx, cred, input.ObjectID+"/insights", params)
		})
	}
}

func createBudgetScheduleHandler(d *Deps) mcp.ToolHandlerFor[CreateBudgetScheduleInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CreateBudgetScheduleInput) (*mcp.CallToolResult, any, error) {
		return d.graphCall(ctx, req, func(ctx context.Context, cred meta.Credentials) ([]byte, error) {
			if err := requiredID("campaign_id", input.CampaignID); err != nil {
				return nil, err
			}
			switch input.BudgetValueType {
			case "ABSOLUTE", "MULTIPLIER":
			case "":
				return nil, invalidInput("budget_value_type is required")
			default:
				return nil, invalidInput("invalid budget_value_type, must be ABSOLUTE or MULTIPLIER")
			}
			if input.TimeEnd <= input.TimeStart {
				return nil, invalidInput("time_end must be after time_start")
			}

			params := url.Values{
				"budget_value":      {strconv.FormatInt(input.BudgetValue, 10)},
				"budget_value_type": {input.BudgetValueType},
				"time_start":        {strconv.FormatInt(input.TimeStart, 10)},
				"time_end":          {strconv.FormatInt(input.TimeEnd, 10)},
			}
			return d.Graph.Post(ctx, cred, input.CampaignID+"/budget_schedules", params)
		})
	}
}

func getLoginLinkHandler(d *Deps) mcp.ToolHandlerFor[LoginLinkInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, _ LoginLinkInput) (*mcp.CallToolResult, any, error) {
		ac := d.Credentials(req)
		method := ac.Method()

		if method == auth.MethodDirectToken {
			return textResult(LoginLinkResult{
				Method:  method,
				Message: "An explicit Meta access token is configured, no login is needed.",
			}), nil, nil
		}

		loginURL, err := d.Auth.LoginURL(ctx, ac)
		if err != nil {
			d.Logger.Warn("building login link",
				slog.String("auth_method", string(method)),
				slog.String("error", err.Error()),
			)
			return errorResult(fmt.Errorf("could not build a login link: %w", err)), nil, nil
		}

		msg := "Open the link to connect your Meta ad account, then retry your request."
		if method == auth.MethodNone {
			msg = fmt.Sprintf("No credentials are configured. Sign up for a Pipeboard API token and set %s, or set %s for your own Meta app.", auth.EnvBrokerToken, auth.EnvAppID)
		}

		return textResult(LoginLinkResult{
			Method:       method,
			Message:      msg,
			LoginURL:     loginURL,
			MarkdownLink: markdownLink(loginURL),
		}), nil, nil
	}
}

// --- Helpers ---

// accountPath normalises an ad account ID to its act_ form.
func accountPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalidInput("account_id is required")
	}
	if !graphIDPattern.MatchString(id) {
		return "", invalidInput("account_id must contain only letters, digits and underscores")
	}
	if !strings.HasPrefix(id, "act_") {
		id = "act_" + id
	}
	return id, nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalidInput(name + " is required")
	}
	return nil
}

// graphIDPattern matches Graph object IDs, which become path segments.
var graphIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func requiredID(name, value string) error {
	if err := required(name, value); err != nil {
		return err
	}
	return optionalID(name, value)
}

func optionalID(name, value string) error {
	if value != "" && !graphIDPattern.MatchString(value) {
		return invalidInput(name + " must contain only letters, digits and underscores")
	}
	return nil
}

func limitOr(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

// jsonList encodes values as the JSON array the Graph API expects for
// list parameters.
func jsonList(values ...string) string {
	data, _ := json.Marshal(values)
	return string(data)
}

func setString(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

func setInt(params url.Values, key string, value int64) {
	if value > 0 {
		params.Set(key, strconv.FormatInt(value, 10))
	}
}
