package httpclient

import (
	"context"
	"fmt"
	"net/http"
)

type Customer struct {
	ID       int64  `json:"id,omitempty"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

type Account struct {
	ID            int64   `json:"id,omitempty"`
	AccountNumber string  `json:"accountNumber,omitempty"`
	AccountType   string  `json:"accountType"`
	Balance       float64 `json:"balance"`
	Status        string  `json:"status,omitempty"`
	OpenDate      string  `json:"openDate,omitempty"`
}

type TransferRequest struct {
	FromAccountID int64   `json:"fromAccountId"`
	ToAccountID   int64   `json:"toAccountId"`
	Amount        float64 `json:"amount"`
}

type TransferResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type LoanApplication struct {
	Amount                float64  `json:"amount"`
	Term                  int      `json:"term"`
	Purpose               string   `json:"purpose"`
	MonthlyIncome         float64  `json:"monthlyIncome"`
	EmploymentStatus      string   `json:"employmentStatus"`
	CollateralValue       *float64 `json:"collateralValue,omitempty"`
	CollateralDescription string   `json:"collateralDescription,omitempty"`
}

type Loan struct {
	ID     int64   `json:"id"`
	Amount float64 `json:"amount"`
	Term   int     `json:"term"`
	Status string  `json:"status"`
}

// Envelope is the {status, data, message} wrapper some services answer with
type Envelope[T any] struct {
	Status  string `json:"status"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

func (c *APIClient) Customers(ctx context.Context) ([]Customer, error) {
	var out []Customer
	if err := c.Do(ctx, http.MethodGet, "/api/customers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) Customer(ctx context.Context, id int64) (*Customer, error) {
	var out Customer
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/customers/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) CreateCustomer(ctx context.Context, customer Customer) (*Customer, error) {
	var out Customer
	if err := c.Do(ctx, http.MethodPost, "/api/customers", customer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) UpdateCustomer(ctx context.Context, customer Customer) (*Customer, error) {
	var out Customer
	if err := c.Do(ctx, http.MethodPut, fmt.Sprintf("/api/customers/%d", customer.ID), customer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) DeleteCustomer(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodDelete, fmt.Sprintf("/api/customers/%d", id), nil, nil)
}

func (c *APIClient) Accounts(ctx context.Context, customerID int64) ([]Account, error) {
	var out []Account
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/customers/%d/accounts", customerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) OpenAccount(ctx context.Context, customerID int64, account Account) (*Account, error) {
	var out Account
	if err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/api/customers/%d/accounts", customerID), account, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) Transfer(ctx context.Context, transfer TransferRequest) (*TransferResponse, error) {
	var out TransferResponse
	if err := c.Do(ctx, http.MethodPost, "/api/transactions/transfer", transfer, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) ApplyForLoan(ctx context.Context, application LoanApplication) (*Envelope[Loan], error) {
	var out Envelope[Loan]
	if err := c.Do(ctx, http.MethodPost, "/api/loans/apply", application, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) CustomerLoans(ctx context.Context, customerID int64) ([]Loan, error) {
	var out []Loan
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/loans/customer/%d", customerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
