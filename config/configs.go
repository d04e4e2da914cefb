package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
)

var MainConfig Config
var DSN string

// Config 服务配置, 从 XML 文件加载
type Config struct {
	XMLName  xml.Name `xml:"config"`
	Addr     string   `xml:"addr"`
	DBType   string   `xml:"dbtype"`
	Host     string   `xml:"host"`
	Port     string   `xml:"port"`
	Username string   `xml:"user"`
	Password string   `xml:"password"`
	Dbname   string   `xml:"dbname"`
	DataDir  string   `xml:"datadir"`
	LogLevel string   `xml:"loglevel"`
	LogFile  string   `xml:"logfile"`
	JobTTL   int      `xml:"jobttl"`
}

// Load 读取配置文件, 填充默认值并生成数据库连接串
func Load(path string) error {
	xmlFile, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer xmlFile.Close()

	var cfg Config
	if err := xml.NewDecoder(xmlFile).Decode(&cfg); err != nil {
		return fmt.Errorf("decode config xml: %w", err)
	}
	cfg.applyDefaults()
	MainConfig = cfg
	DSN = cfg.BuildDSN()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8426"
	}
	if c.DBType == "" {
		c.DBType = "postgres"
	}
	if c.Dbname == "" {
		c.Dbname = "geoedit"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.JobTTL <= 0 {
		// 终态任务在注册表里保留的分钟数
		c.JobTTL = 30
	}
}

// BuildDSN 按数据库类型拼接连接串
func (c *Config) BuildDSN() string {
	switch c.DBType {
	case "sqlite":
		return filepath.Join(c.DataDir, c.Dbname+".db")
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.Username, c.Password, c.Host, c.Port, c.Dbname)
	default:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			c.Host, c.Username, c.Password, c.Dbname, c.Port)
	}
}
