package rbac

// DefaultPolicy returns the built-in role-to-capability mapping used when no
// policy file is configured. Every mapped role carries the baseline
// get_current_date and vector_search capabilities; graph_erp_lookup and
// write-capable ERP capabilities are granted per role.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(defaultMapping)
	if err != nil {
		// The built-in mapping is validated by tests; a failure here is a
		// programming error.
		panic(err)
	}
	return p
}

var defaultMapping = map[string][]string{
	"admin": {
		"get_current_date", "vector_search", "graph_erp_lookup", "perform_calculation",
		"get_product_stock_level", "create_order", "get_order_status", "get_customer_outstanding_balance",
		"get_inventory_overview", "stock_in", "stock_out", "inventory_check", "get_low_stock_alerts",
		"get_revenue_report", "get_expense_report", "get_customer_debt", "create_receipt", "create_payment",
		"create_project", "get_project_details", "update_project_status", "create_task", "assign_task",
		"trigger_workflow", "get_workflow_status", "approve_workflow_step",
		"create_employee", "get_employee_profile", "submit_leave_request", "calculate_payroll", "create_performance_goal",
		"create_lead", "qualify_lead", "create_opportunity", "create_customer_account", "create_support_ticket",
		"auto_create_purchase_order", "auto_generate_report", "auto_data_entry",
	},
	"finance_manager": {
		"get_current_date", "vector_search", "graph_erp_lookup", "perform_calculation",
		"get_revenue_report", "get_expense_report", "get_customer_debt", "create_receipt", "create_payment",
		"calculate_payroll", "get_customer_outstanding_balance",
		"get_project_details", "auto_generate_report",
	},
	"sales_manager": {
		"get_current_date", "vector_search", "graph_erp_lookup",
		"create_lead", "qualify_lead", "create_opportunity", "create_customer_account", "create_support_ticket",
		"get_product_stock_level", "create_order", "get_order_status", "get_customer_outstanding_balance",
		"create_project", "get_project_details", "create_task",
	},
	"sales_rep": {
		"get_current_date", "vector_search", "graph_erp_lookup",
		"create_lead", "create_opportunity", "get_customer_outstanding_balance",
		"get_product_stock_level", "get_order_status",
	},
	"warehouse_manager": {
		"get_current_date", "vector_search", "graph_erp_lookup",
		"get_product_stock_level", "get_inventory_overview", "stock_in", "stock_out",
		"inventory_check", "get_low_stock_alerts",
		"create_project", "get_project_details", "create_task", "assign_task",
	},
	"inventory_clerk": {
		"get_current_date", "vector_search", "graph_erp_lookup",
		"get_product_stock_level", "get_inventory_overview", "stock_in", "stock_out", "inventory_check",
	},
	"project_manager": {
		"get_current_date", "vector_search", "graph_erp_lookup", "perform_calculation",
		"create_project", "get_project_details", "update_project_status", "create_task", "assign_task",
		"trigger_workflow", "get_workflow_status", "approve_workflow_step",
		"get_employee_profile", "auto_generate_report",
	},
	"hr_manager": {
		"get_current_date", "vector_search", "graph_erp_lookup", "perform_calculation",
		"create_employee", "get_employee_profile", "submit_leave_request", "calculate_payroll", "create_performance_goal",
		"trigger_workflow", "get_workflow_status", "approve_workflow_step",
		"auto_generate_report", "auto_data_entry",
	},
	"hr_specialist": {
		"get_current_date", "vector_search", "graph_erp_lookup",
		"get_employee_profile", "submit_leave_request", "create_performance_goal",
	},
	"customer_service": {
		"get_current_date", "vector_search", "graph_erp_lookup",
		"create_support_ticket", "get_customer_outstanding_balance", "create_customer_account",
		"get_order_status", "get_product_stock_level",
	},
	"analyst": {
		"get_current_date", "vector_search", "graph_erp_lookup", "perform_calculation",
		"get_revenue_report", "get_expense_report", "get_project_details",
		"get_employee_profile", "auto_generate_report",
	},
	"ceo": {
		"get_current_date", "vector_search", "graph_erp_lookup", "perform_calculation",
		"get_revenue_report", "get_expense_report", "get_project_details",
		"approve_workflow_step", "auto_generate_report",
	},
	"default": {
		"get_current_date", "vector_search",
	},
}
