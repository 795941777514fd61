package main

import "shop_automation/presentation/cli"

func main() {
	cli.Execute()
}
