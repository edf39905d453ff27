package models

import "time"

// Route is a scheduled trip with a fixed seat capacity.
type Route struct {
	ID             string       `json:"id"`
	RouteCode      string       `json:"routeCode"`
	PartnerID      string       `json:"partnerId"`
	From           string       `json:"from"`
	To             string       `json:"to"`
	DepartureTime  time.Time    `json:"departureTime"`
	Duration       string       `json:"duration,omitempty"`
	Price          int64        `json:"price"`
	TotalSeats     int          `json:"totalSeats"`
	AvailableSeats int          `json:"availableSeats"`
	BookedSeats    []BookedSeat `json:"bookedSeats"`
	BusType        string       `json:"busType,omitempty"`
	LicensePlate   string       `json:"licensePlate,omitempty"`
	IsActive       bool         `json:"isActive"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// BookedSeat ties one seat of a route to one order.
type BookedSeat struct {
	OrderID    string    `json:"orderId"`
	SeatNumber *int      `json:"seatNumber,omitempty"`
	BookedAt   time.Time `json:"bookedAt"`
}

// RouteSummary is the route view embedded in user order listings.
type RouteSummary struct {
	ID            string    `json:"id"`
	RouteCode     string    `json:"routeCode"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	DepartureTime time.Time `json:"departureTime"`
	BusType       string    `json:"busType,omitempty"`
	LicensePlate  string    `json:"licensePlate,omitempty"`
}

// RouteStat ranks a route by its non-cancelled orders.
type RouteStat struct {
	Route         RouteSummary `json:"route"`
	Price         int64        `json:"price"`
	OrderCount    int          `json:"orderCount"`
	TotalRevenue  int64        `json:"totalRevenue"`
	AvgOrderValue float64      `json:"avgOrderValue"`
}

// PartnerContact is the read-only display data of a bus operator.
type PartnerContact struct {
	ID          string `json:"id"`
	CompanyName string `json:"companyName"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (r Route) Summary() RouteSummary {
	return RouteSummary{
		ID:            r.ID,
		RouteCode:     r.RouteCode,
		From:          r.From,
		To:            r.To,
		DepartureTime: r.DepartureTime,
		BusType:       r.BusType,
		LicensePlate:  r.LicensePlate,
	}
}
