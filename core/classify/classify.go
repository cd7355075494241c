package classify

import (
	"strings"

	schemaconsent "github.com/davidahmann/acp/core/schema/v1/consent"
)

const (
	DefaultCategory = schemaconsent.CategoryData
	DefaultRisk     = schemaconsent.RiskMedium
)

// Source names the rule that produced a field.
type Source string

const (
	SourceOverride Source = "override"
	SourceExact    Source = "exact"
	SourcePrefix   Source = "prefix"
	SourceDefault  Source = "default"
)

type Result struct {
	Category       schemaconsent.Category  `json:"category"`
	Risk           schemaconsent.RiskLevel `json:"risk_level"`
	CategorySource Source                  `json:"category_source"`
	RiskSource     Source                  `json:"risk_source"`
	MatchedRule    string                  `json:"matched_rule,omitempty"`
}

type rule struct {
	category schemaconsent.Category
	risk     schemaconsent.RiskLevel
}

var exactRules = map[string]rule{
	"send_email":            {schemaconsent.CategoryCommunication, schemaconsent.RiskHigh},
	"send_sms":              {schemaconsent.CategoryCommunication, schemaconsent.RiskHigh},
	"send_message":          {schemaconsent.CategoryCommunication, schemaconsent.RiskMedium},
	"reply_email":           {schemaconsent.CategoryCommunication, schemaconsent.RiskMedium},
	"post_to_slack":         {schemaconsent.CategoryCommunication, schemaconsent.RiskMedium},
	"transfer_money":        {schemaconsent.CategoryFinancial, schemaconsent.RiskCritical},
	"make_payment":          {schemaconsent.CategoryFinancial, schemaconsent.RiskCritical},
	"purchase":              {schemaconsent.CategoryFinancial, schemaconsent.RiskHigh},
	"refund":                {schemaconsent.CategoryFinancial, schemaconsent.RiskHigh},
	"create_invoice":        {schemaconsent.CategoryFinancial, schemaconsent.RiskMedium},
	"read_file":             {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"write_file":            {schemaconsent.CategoryData, schemaconsent.RiskMedium},
	"delete_file":           {schemaconsent.CategoryData, schemaconsent.RiskHigh},
	"delete_database":       {schemaconsent.CategoryData, schemaconsent.RiskCritical},
	"drop_table":            {schemaconsent.CategoryData, schemaconsent.RiskCritical},
	"query_database":        {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"search_web":            {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"execute_shell_command": {schemaconsent.CategorySystem, schemaconsent.RiskCritical},
	"run_command":           {schemaconsent.CategorySystem, schemaconsent.RiskCritical},
	"execute_code":          {schemaconsent.CategorySystem, schemaconsent.RiskHigh},
	"restart_service":       {schemaconsent.CategorySystem, schemaconsent.RiskHigh},
	"deploy":                {schemaconsent.CategorySystem, schemaconsent.RiskHigh},
	"install_package":       {schemaconsent.CategorySystem, schemaconsent.RiskMedium},
	"post_tweet":            {schemaconsent.CategoryPublic, schemaconsent.RiskHigh},
	"publish_post":          {schemaconsent.CategoryPublic, schemaconsent.RiskHigh},
	"change_password":       {schemaconsent.CategoryIdentity, schemaconsent.RiskCritical},
	"delete_account":        {schemaconsent.CategoryIdentity, schemaconsent.RiskCritical},
	"grant_access":          {schemaconsent.CategoryIdentity, schemaconsent.RiskHigh},
	"create_account":        {schemaconsent.CategoryIdentity, schemaconsent.RiskMedium},
	"update_profile":        {schemaconsent.CategoryIdentity, schemaconsent.RiskMedium},
	"unlock_door":           {schemaconsent.CategoryPhysical, schemaconsent.RiskCritical},
	"control_device":        {schemaconsent.CategoryPhysical, schemaconsent.RiskMedium},
	"set_thermostat":        {schemaconsent.CategoryPhysical, schemaconsent.RiskLow},
}

var prefixRules = map[string]rule{
	"get_":      {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"read_":     {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"list_":     {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"search_":   {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"fetch_":    {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"query_":    {schemaconsent.CategoryData, schemaconsent.RiskLow},
	"write_":    {schemaconsent.CategoryData, schemaconsent.RiskMedium},
	"create_":   {schemaconsent.CategoryData, schemaconsent.RiskMedium},
	"update_":   {schemaconsent.CategoryData, schemaconsent.RiskMedium},
	"delete_":   {schemaconsent.CategoryData, schemaconsent.RiskHigh},
	"remove_":   {schemaconsent.CategoryData, schemaconsent.RiskHigh},
	"drop_":     {schemaconsent.CategoryData, schemaconsent.RiskCritical},
	"send_":     {schemaconsent.CategoryCommunication, schemaconsent.RiskHigh},
	"email_":    {schemaconsent.CategoryCommunication, schemaconsent.RiskHigh},
	"message_":  {schemaconsent.CategoryCommunication, schemaconsent.RiskMedium},
	"reply_":    {schemaconsent.CategoryCommunication, schemaconsent.RiskMedium},
	"post_":     {schemaconsent.CategoryPublic, schemaconsent.RiskHigh},
	"publish_":  {schemaconsent.CategoryPublic, schemaconsent.RiskHigh},
	"tweet_":    {schemaconsent.CategoryPublic, schemaconsent.RiskHigh},
	"pay_":      {schemaconsent.CategoryFinancial, schemaconsent.RiskCritical},
	"transfer_": {schemaconsent.CategoryFinancial, schemaconsent.RiskCritical},
	"purchase_": {schemaconsent.CategoryFinancial, schemaconsent.RiskHigh},
	"buy_":      {schemaconsent.CategoryFinancial, schemaconsent.RiskHigh},
	"refund_":   {schemaconsent.CategoryFinancial, schemaconsent.RiskHigh},
	"execute_":  {schemaconsent.CategorySystem, schemaconsent.RiskCritical},
	"exec_":     {schemaconsent.CategorySystem, schemaconsent.RiskCritical},
	"shell_":    {schemaconsent.CategorySystem, schemaconsent.RiskCritical},
	"run_":      {schemaconsent.CategorySystem, schemaconsent.RiskHigh},
	"deploy_":   {schemaconsent.CategorySystem, schemaconsent.RiskHigh},
	"install_":  {schemaconsent.CategorySystem, schemaconsent.RiskMedium},
	"login_":    {schemaconsent.CategoryIdentity, schemaconsent.RiskHigh},
	"auth_":     {schemaconsent.CategoryIdentity, schemaconsent.RiskHigh},
	"grant_":    {schemaconsent.CategoryIdentity, schemaconsent.RiskHigh},
	"revoke_":   {schemaconsent.CategoryIdentity, schemaconsent.RiskHigh},
	"unlock_":   {schemaconsent.CategoryPhysical, schemaconsent.RiskCritical},
	"lock_":     {schemaconsent.CategoryPhysical, schemaconsent.RiskHigh},
	"move_":     {schemaconsent.CategoryPhysical, schemaconsent.RiskMedium},
}

// Classify maps a tool name to a category and risk tier. Overrides win per
// field; when both are set no table is consulted. It never fails.
func Classify(tool string, category *schemaconsent.Category, risk *schemaconsent.RiskLevel) Result {
	result := Result{}
	if category != nil {
		result.Category = *category
		result.CategorySource = SourceOverride
	}
	if risk != nil {
		result.Risk = *risk
		result.RiskSource = SourceOverride
	}
	if category != nil && risk != nil {
		return result
	}

	matched, name, source := lookup(tool)
	if result.CategorySource == "" {
		result.Category = matched.category
		result.CategorySource = source
	}
	if result.RiskSource == "" {
		result.Risk = matched.risk
		result.RiskSource = source
	}
	result.MatchedRule = name
	return result
}

func lookup(tool string) (rule, string, Source) {
	lower := strings.ToLower(strings.TrimSpace(tool))
	if matched, ok := exactRules[lower]; ok {
		return matched, lower, SourceExact
	}
	best := ""
	for prefix := range prefixRules {
		if strings.HasPrefix(lower, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return prefixRules[best], best, SourcePrefix
	}
	return rule{category: DefaultCategory, risk: DefaultRisk}, "", SourceDefault
}

// Rules lists the exact and prefix tables for display.
func Rules() (exact map[string]Result, prefix map[string]Result) {
	exact = make(map[string]Result, len(exactRules))
	for name, matched := range exactRules {
		exact[name] = Result{Category: matched.category, Risk: matched.risk, CategorySource: SourceExact, RiskSource: SourceExact, MatchedRule: name}
	}
	prefix = make(map[string]Result, len(prefixRules))
	for name, matched := range prefixRules {
		prefix[name] = Result{Category: matched.category, Risk: matched.risk, CategorySource: SourcePrefix, RiskSource: SourcePrefix, MatchedRule: name}
	}
	return exact, prefix
}
