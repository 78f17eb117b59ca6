package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken      string
	DevGuild          string
	DBPath            string
	GuildConfigJSON   string
	LogLevel          string
	CooldownBasketMin int
	CooldownBasketMax int
	CooldownTopMin    int
	CooldownTopMax    int
	CooldownSearchMin int
	CooldownSearchMax int
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("no DISCORD_TOKEN in environment")
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/easterobot.db"
	}

	cooldownBasketMin, err := loadInt("COOLDOWN_BASKET_MIN", 20)
	if err != nil {
		return nil, err
	}
	cooldownBasketMax, err := loadInt("COOLDOWN_BASKET_MAX", 40)
	if err != nil {
		return nil, err
	}
	cooldownTopMin, err := loadInt("COOLDOWN_TOP_MIN", 30)
	if err != nil {
		return nil, err
	}
	cooldownTopMax, err := loadInt("COOLDOWN_TOP_MAX", 30)
	if err != nil {
		return nil, err
	}
	cooldownSearchMin, err := loadInt("COOLDOWN_SEARCH_MIN", 60)
	if err != nil {
		return nil, err
	}
	cooldownSearchMax, err := loadInt("COOLDOWN_SEARCH_MAX", 120)
	if err != nil {
		return nil, err
	}

	return &Config{
		DiscordToken:      token,
		DevGuild:          os.Getenv("DEV_GUILD_ID"),
		DBPath:            dbPath,
		GuildConfigJSON:   os.Getenv("GUILD_CONFIG_JSON"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		CooldownBasketMin: cooldownBasketMin,
		CooldownBasketMax: cooldownBasketMax,
		CooldownTopMin:    cooldownTopMin,
		CooldownTopMax:    cooldownTopMax,
		CooldownSearchMin: cooldownSearchMin,
		CooldownSearchMax: cooldownSearchMax,
	}, nil
}

func loadInt(key string, defValue int) (int, error) {
	value := os.Getenv(key)
	if value != "" {
		return strconv.Atoi(value)
	}

	return defValue, nil
}
