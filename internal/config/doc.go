// Package config загружает конфигурацию узла Quorum.
//
// Порядок: значения по умолчанию (Default), затем YAML-файл
// (QUORUM_CONFIG или --config), затем переменные окружения:
//
//	NODE_ID        идентификатор узла
//	HTTP_PORT      порт admin API, /healthz и /metrics
//	DB_URL         строка подключения PostgreSQL
//	RABBITMQ_URL   адрес RabbitMQ
//	REDIS_ADDR     адрес Redis (для LEASE_BACKEND=redis)
//	LEASE_BACKEND  postgres, redis или memory
//	QUORUM_QUEUES  очереди через запятую
//	LOG_LEVEL, LOG_FORMAT
//
// Если NODE_ID не задан, идентификатор строится NodeIDProvider из
// POD_UID или HOSTNAME и случайного суффикса.
package config
