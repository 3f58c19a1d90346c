package accommodation

// DefaultListings is the static lodging data shown on the site.
func DefaultListings() []Accommodation {
	return []Accommodation{
		{
			ID:         "hotel_001",
			Name:       "제주 신라호텔",
			Type:       "hotel",
			Location:   "jeju-city",
			Address:    "제주시 연동 신라로 75",
			Rating:     4.7,
			Reviews:    1234,
			PriceRange: "premium",
			BasePrice:  350000,
			Features:   []string{"오션뷰", "실내수영장", "스파", "피트니스", "무료WiFi", "무료주차"},
			RoomTypes: []RoomType{
				{Type: "스탠다드", Price: 320000, Available: 5},
				{Type: "디럭스", Price: 450000, Available: 4},
				{Type: "스위트", Price: 680000, Available: 3},
			},
			Images: []string{"hotel1.jpg", "hotel1_2.jpg"},
		},
		{
			ID:         "resort_001",
			Name:       "롯데시티호텔 제주",
			Type:       "hotel",
			Location:   "jeju-city",
			Address:    "제주시 도령로 83",
			Rating:     4.5,
			Reviews:    987,
			PriceRange: "premium",
			BasePrice:  280000,
			Features:   []string{"시티뷰", "비즈니스센터", "레스토랑", "무료WiFi", "주차가능"},
			RoomTypes: []RoomType{
				{Type: "스탠다드", Price: 252000, Available: 3},
				{Type: "비즈니스", Price: 320000, Available: 5},
			},
			Images: []string{"hotel2.jpg"},
		},
		{
			ID:         "pension_001",
			Name:       "서귀포 바다 펜션",
			Type:       "pension",
			Location:   "seogwipo",
			Address:    "서귀포시 남원읍 태위로 360",
			Rating:     4.3,
			Reviews:    412,
			PriceRange: "standard",
			BasePrice:  150000,
			Features:   []string{"오션뷰", "바베큐", "무료WiFi", "무료주차"},
			RoomTypes: []RoomType{
				{Type: "커플룸", Price: 150000, Available: 4},
				{Type: "패밀리룸", Price: 210000, Available: 2},
			},
			Images: []string{"pension1.jpg"},
		},
		{
			ID:         "guesthouse_001",
			Name:       "애월 게스트하우스",
			Type:       "guesthouse",
			Location:   "aewol",
			Address:    "제주시 애월읍 애월해안로 272",
			Rating:     4.6,
			Reviews:    658,
			PriceRange: "budget",
			BasePrice:  45000,
			Features:   []string{"공용주방", "무료WiFi", "조식제공"},
			RoomTypes: []RoomType{
				{Type: "도미토리", Price: 45000, Available: 8},
				{Type: "2인실", Price: 90000, Available: 3},
			},
			Images: []string{"guesthouse1.jpg"},
		},
	}
}
