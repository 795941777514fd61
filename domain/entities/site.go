package entities

// SiteProfile holds the selectors for one storefront. The workflow never hardcodes them.
type SiteProfile struct {
	LoginButton         string `mapstructure:"login_button"`
	LoginModal          string `mapstructure:"login_modal"`
	UsernameInput       string `mapstructure:"username_input"`
	PasswordInput       string `mapstructure:"password_input"`
	SubmitLogin         string `mapstructure:"submit_login"`
	AuthenticatedMarker string `mapstructure:"authenticated_marker"`
	CategoryLink        string `mapstructure:"category_link"`
	ListingEntry        string `mapstructure:"listing_entry"`
	ProductName         string `mapstructure:"product_name"`
	ProductPrice        string `mapstructure:"product_price"`
	ProductDescription  string `mapstructure:"product_description"`
	AddToCart           string `mapstructure:"add_to_cart"`
	CartLink            string `mapstructure:"cart_link"`
	CartURL             string `mapstructure:"cart_url"`
	CartSuccessMarker   string `mapstructure:"cart_success_marker"`
}

// DemoblazeProfile - selectors for the demoblaze.com demo store
func DemoblazeProfile() SiteProfile {
	return SiteProfile{
		LoginButton:         "#login2",
		LoginModal:          "#logInModal.show",
		UsernameInput:       "#loginusername",
		PasswordInput:       "#loginpassword",
		SubmitLogin:         `#logInModal button.btn.btn-primary[onclick="logIn()"]`,
		AuthenticatedMarker: "#nameofuser",
		CategoryLink:        "#itemc",
		ListingEntry:        "#tbodyid .card-title a",
		ProductName:         ".name",
		ProductPrice:        ".price-container",
		ProductDescription:  "#more-information p",
		AddToCart:           `a.btn.btn-success[onclick^="addToCart"]`,
		CartLink:            "#cartur",
		CartSuccessMarker:   "#tbodyid .success",
	}
}
