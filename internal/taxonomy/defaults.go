package taxonomy

import "github.com/review-pulse/backend/internal/storage/models"

const DefaultThemeID = "ui_ux"

var builtinThemes = []models.ThemeDefinition{
	{
		ID:          "glitches",
		Name:        "Slow, Glitches",
		Description: "Orders placed late or stuck pending, crashes, freezes, errors and features that stop working.",
		Keywords:    []string{"glitch", "bug", "crash", "freeze", "error", "stuck", "pending", "not working"},
	},
	{
		ID:          "ui_ux",
		Name:        "UI/UX",
		Description: "Look and feel of the app, navigation, layout, ease of use and missing screens or reports.",
		Keywords:    []string{"ui", "ux", "interface", "design", "navigation", "layout", "usability", "user experience"},
		Default:     true,
	},
	{
		ID:          "payments_statements",
		Name:        "Payments/Statements",
		Description: "P&L figures that do not match, statements, deposits, withdrawals and payment failures.",
		Keywords:    []string{"payment", "statement", "withdrawal", "deposit", "p&l", "refund", "upi"},
	},
	{
		ID:          "customer_support",
		Name:        "Customer Support",
		Description: "Issues related to customer service, support responsiveness, help requests, and communication with support team.",
		Keywords:    []string{"support", "customer service", "helpdesk", "ticket", "response time", "agent"},
	},
	{
		ID:          "slow",
		Name:        "Slow",
		Description: "App performance issues, slow loading times, laggy interface, delayed responses, and general performance problems.",
		Keywords:    []string{"lag", "laggy", "loading", "performance", "latency", "sluggish"},
	},
	{
		ID:          "fees_financial_concerns",
		Name:        "Fees & Financial Concerns",
		Description: "Complaints about unexpected charges, brokerage fees, balance deductions, or transparency around financial transactions.",
		Keywords:    []string{"fee", "charge", "brokerage", "deduction", "hidden cost", "commission"},
	},
}

// Default returns the built-in review taxonomy with ui_ux as fallback.
func Default() *Taxonomy {
	t, err := New(builtinThemes)
	if err != nil {
		panic(err)
	}
	return t
}
