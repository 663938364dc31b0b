package livebid_client

const (
	// Base URL of a local development server
	DefaultBaseURL = "http://localhost:8080"

	auctionsPath      = "/auctions"
	auctionPath       = "/auctions/%s"
	startAuctionPath  = "/auctions/%s/start"
	bidsPath          = "/auctions/%s/bids"
	userPath          = "/users/%s"
	userAuctionsPath  = "/users/%s/auctions"
	userBidsPath      = "/users/%s/bids"
	userSalesPath     = "/users/%s/sales"
	userPurchasesPath = "/users/%s/purchases"
	notificationsPath = "/users/%s/notifications"
	unreadCountPath   = "/users/%s/notifications/unread-count"
	markReadPath      = "/users/%s/notifications/%s/read"
	markAllReadPath   = "/users/%s/notifications/mark-all-read"

	AuthHeader      = "Authorization"
	JsonHeader      = "Accept"
	JsonContentType = "application/json"
)
