package tool

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/erpilot-ai/erpilot/pkg/erp"
	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
)

// erpEndpoint declares one ERP-backed capability. Path segments of the form
// {key} are filled from args; for GET the params keys are copied to the
// query string, for POST the body keys are sent as JSON.
type erpEndpoint struct {
	name   string
	desc   string
	method string
	path   string
	params []string
}

var erpEndpoints = []erpEndpoint{
	// Sales
	{"get_product_stock_level", "Stock level for a product.", http.MethodGet, "/products/{product_id}/stock", nil},
	{"create_order", "Create a sales order.", http.MethodPost, "/orders", []string{"customer_id", "items"}},
	{"get_order_status", "Status of an order.", http.MethodGet, "/orders/{order_id}/status", nil},
	{"get_customer_outstanding_balance", "Outstanding balance for a customer.", http.MethodGet, "/customers/{customer_id}/balance", nil},

	// Inventory
	{"get_inventory_overview", "Inventory overview.", http.MethodGet, "/inventory/overview", nil},
	{"stock_in", "Record incoming stock.", http.MethodPost, "/inventory/stock-in", []string{"product_id", "quantity", "warehouse"}},
	{"stock_out", "Record outgoing stock.", http.MethodPost, "/inventory/stock-out", []string{"product_id", "quantity", "warehouse"}},
	{"inventory_check", "Start a stocktake.", http.MethodPost, "/inventory/check", nil},
	{"get_low_stock_alerts", "Products below minimum stock.", http.MethodGet, "/inventory/low-stock-alerts", nil},

	// Finance
	{"get_revenue_report", "Revenue report for a period.", http.MethodGet, "/finance/revenue-report", []string{"from", "to"}},
	{"get_expense_report", "Expense report for a period.", http.MethodGet, "/finance/expense-report", []string{"from", "to"}},
	{"get_customer_debt", "Debt position of a customer.", http.MethodGet, "/finance/customers/{customer_id}/debt", nil},
	{"create_receipt", "Record a receipt.", http.MethodPost, "/finance/receipts", []string{"customer_id", "amount"}},
	{"create_payment", "Record a payment.", http.MethodPost, "/finance/payments", []string{"vendor_id", "amount"}},

	// Projects
	{"create_project", "Create a project.", http.MethodPost, "/projects", []string{"name", "owner"}},
	{"get_project_details", "Details of a project.", http.MethodGet, "/projects/{project_id}", nil},
	{"update_project_status", "Update project status.", http.MethodPost, "/projects/{project_id}/status", []string{"status"}},
	{"create_task", "Create a task.", http.MethodPost, "/tasks", []string{"project_id", "title"}},
	{"assign_task", "Assign a task.", http.MethodPost, "/tasks/{task_id}/assign", []string{"assignee"}},

	// Workflow
	{"trigger_workflow", "Start a workflow.", http.MethodPost, "/workflows/trigger", []string{"workflow", "payload"}},
	{"get_workflow_status", "Status of a workflow run.", http.MethodGet, "/workflows/{workflow_id}/status", nil},
	{"approve_workflow_step", "Approve a pending workflow step.", http.MethodPost, "/workflows/{workflow_id}/approve", []string{"step"}},

	// HR
	{"create_employee", "Create an employee record.", http.MethodPost, "/employees", []string{"name", "department"}},
	{"get_employee_profile", "Profile of an employee.", http.MethodGet, "/employees/{employee_id}", nil},
	{"submit_leave_request", "Submit a leave request.", http.MethodPost, "/leave/requests", []string{"employee_id", "from", "to"}},
	{"calculate_payroll", "Calculate payroll for a period.", http.MethodPost, "/payroll/calculate", []string{"period"}},
	{"create_performance_goal", "Create a performance goal.", http.MethodPost, "/performance/goals", []string{"employee_id", "goal"}},

	// CRM
	{"create_lead", "Create a sales lead.", http.MethodPost, "/crm/leads", []string{"name", "contact"}},
	{"qualify_lead", "Qualify a lead.", http.MethodPost, "/crm/leads/{lead_id}/qualify", nil},
	{"create_opportunity", "Create an opportunity.", http.MethodPost, "/crm/opportunities", []string{"lead_id", "value"}},
	{"create_customer_account", "Create a customer account.", http.MethodPost, "/crm/accounts", []string{"name"}},
	{"create_support_ticket", "Open a support ticket.", http.MethodPost, "/crm/tickets", []string{"customer_id", "subject"}},

	// Automation
	{"auto_create_purchase_order", "Create a purchase order from reorder rules.", http.MethodPost, "/automation/purchase-orders", []string{"product_id"}},
	{"auto_generate_report", "Generate a report.", http.MethodPost, "/automation/reports", []string{"report_type"}},
	{"auto_data_entry", "Bulk data entry.", http.MethodPost, "/automation/data-entry", []string{"records"}},
}

// NewERPCapabilities builds the ERP-backed capability set over the client.
func NewERPCapabilities(client erp.Client) []Capability {
	caps := make([]Capability, 0, len(erpEndpoints))
	for _, ep := range erpEndpoints {
		caps = append(caps, newERPCapability(client, ep))
	}
	return caps
}

func newERPCapability(client erp.Client, ep erpEndpoint) Capability {
	return Capability{
		Name:        ep.name,
		Description: ep.desc,
		// Reads may be cached and replayed; writes never.
		Idempotent: ep.method == http.MethodGet,
		Handler: func(ctx context.Context, args Args) (any, error) {
			path, err := fillPath(ep.path, args)
			if err != nil {
				return nil, err
			}
			if ep.method == http.MethodGet {
				params := map[string]string{}
				for _, key := range ep.params {
					if v := args.String(key); v != "" {
						params[key] = v
					}
				}
				return client.Get(ctx, path, params)
			}
			body := map[string]any{}
			for _, key := range ep.params {
				if v, ok := args[key]; ok {
					body[key] = v
				}
			}
			return client.Post(ctx, path, body)
		},
	}
}

// fillPath substitutes {key} placeholders from args, failing on missing ones.
func fillPath(path string, args Args) (string, error) {
	out := path
	for {
		start := strings.IndexByte(out, '{')
		if start < 0 {
			return out, nil
		}
		end := strings.IndexByte(out[start:], '}')
		if end < 0 {
			return "", pilotErrors.New(pilotErrors.CodeInternal,
				fmt.Sprintf("malformed endpoint path %q", path), nil)
		}
		key := out[start+1 : start+end]
		v := args.String(key)
		if v == "" {
			return "", pilotErrors.New(pilotErrors.CodeInvalidInput,
				fmt.Sprintf("missing required argument %q", key), nil)
		}
		out = out[:start] + v + out[start+end+1:]
	}
}
