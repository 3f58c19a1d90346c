package fallback

import (
	"time"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

type weatherMain struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	Humidity  int     `json:"humidity"`
}

type weatherCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type currentWeather struct {
	Main    weatherMain        `json:"main"`
	Weather []weatherCondition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
}

type weatherAlert struct {
	Event       string `json:"event"`
	Description string `json:"description"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
}

type flight struct {
	FlightID      string `json:"flightId"`
	Airline       string `json:"airline"`
	Origin        string `json:"origin"`
	ScheduleTime  string `json:"scheduleTime"`
	EstimatedTime string `json:"estimatedTime"`
	Status        string `json:"status"`
}

type roadStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Speed  int    `json:"speed"`
}

type busRoute struct {
	RouteNo   string `json:"routeNo"`
	RouteName string `json:"routeName"`
	Interval  string `json:"interval"`
	FirstBus  string `json:"firstBus"`
	LastBus   string `json:"lastBus"`
}

type ferry struct {
	Route     string `json:"route"`
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
	Status    string `json:"status"`
}

// DefaultTable is the average-day Jeju data served when providers are down.
func DefaultTable(now time.Time) Table {
	current := currentWeather{
		Main:    weatherMain{Temp: 22, FeelsLike: 24, Humidity: 65},
		Weather: []weatherCondition{{Main: "Clear", Description: "맑음"}},
		Name:    "제주시",
	}
	current.Wind.Speed = 3.2

	return Table{
		models.DomainWeather: {
			"current": {
				Data:    current,
				Message: "실시간 데이터 일시 불가, 평균 데이터 표시",
			},
			"alerts": {
				Data: map[string][]weatherAlert{
					"alerts": {{
						Event:       "강풍주의보",
						Description: "제주도 전체에 강풍주의보가 발효 중입니다.",
						Start:       now.Unix(),
						End:         now.Add(24 * time.Hour).Unix(),
					}},
				},
			},
		},
		models.DomainAviation: {
			"arrivals": {
				Data: map[string][]flight{
					"items": {
						{FlightID: "KE1201", Airline: "대한항공", Origin: "김포", ScheduleTime: "09:30", EstimatedTime: "09:35", Status: "도착"},
						{FlightID: "OZ8901", Airline: "아시아나", Origin: "부산", ScheduleTime: "10:15", EstimatedTime: "10:15", Status: "정시"},
					},
				},
			},
		},
		models.DomainTraffic: {
			"info": {
				Data: map[string][]roadStatus{
					"routes": {
						{Name: "제주공항-중문", Status: "원활", Speed: 65},
						{Name: "제주시-서귀포", Status: "보통", Speed: 45},
						{Name: "한림-성산", Status: "혼잡", Speed: 35},
					},
				},
			},
		},
		models.DomainBus: {
			"routes": {
				Data: map[string][]busRoute{
					"busRoutes": {
						{RouteNo: "100", RouteName: "공항-중문", Interval: "15분", FirstBus: "05:30", LastBus: "22:30"},
						{RouteNo: "200", RouteName: "공항-서귀포", Interval: "20분", FirstBus: "06:00", LastBus: "21:30"},
					},
				},
			},
		},
		models.DomainFerry: {
			"schedules": {
				Data: map[string][]ferry{
					"ferries": {
						{Route: "제주-부산", Departure: "19:30", Arrival: "06:00+1", Status: "정상운항"},
						{Route: "제주-완도", Departure: "08:30", Arrival: "13:30", Status: "정상운항"},
					},
				},
			},
		},
	}
}
